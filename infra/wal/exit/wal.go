// Package exit is the event outbox. Events drained from a committed
// command are stored here before the broadcaster publishes them, so a
// crash between commit and publish loses nothing. The outbox also records
// the last command whose events it holds; journal replay rewrites the
// events of every command past that mark.
package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// ExitRecord is one outbox entry. Key is the partitioning key handed to
// the publisher, Payload the encoded event envelope.
type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Key         string
	Payload     []byte
}

var (
	ErrNotFound      = errors.New("outbox record not found")
	ErrInvalidRecord = errors.New("invalid outbox record")
)

// value encoding: [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
const fixedLen = 1 + 4 + 8 + 2

func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, fixedLen+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	copy(buf[fixedLen:], r.Key)
	copy(buf[fixedLen+len(r.Key):], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (ExitRecord, error) {
	if len(b) < fixedLen {
		return ExitRecord{}, errors.Wrapf(ErrInvalidRecord, "seq %d: %d bytes", seq, len(b))
	}
	kl := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < fixedLen+kl {
		return ExitRecord{}, errors.Wrapf(ErrInvalidRecord, "seq %d: key overruns value", seq)
	}
	return ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         string(b[fixedLen : fixedLen+kl]),
		Payload:     append([]byte(nil), b[fixedLen+kl:]...),
	}, nil
}

// -------------------- WAL --------------------

type ExitWAL struct {
	db  *pebble.DB
	now func() time.Time
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open outbox")
	}
	return &ExitWAL{db: db, now: time.Now}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// Entry is a new event to store.
type Entry struct {
	Seq     uint64
	Key     string
	Payload []byte
}

// PutBatch stores entries as NEW in one synced batch without moving the
// command mark.
func (w *ExitWAL) PutBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return w.PutCommand(0, entries)
}

// PutCommand stores the events of command cmdSeq and advances the command
// mark in the same synced batch. Rewriting a command is idempotent.
func (w *ExitWAL) PutCommand(cmdSeq uint64, entries []Entry) error {
	b := w.db.NewBatch()
	defer b.Close()
	for _, e := range entries {
		rec := ExitRecord{State: StateNew, Key: e.Key, Payload: e.Payload}
		if err := b.Set(keyFor(e.Seq), encodeRecord(rec), nil); err != nil {
			return err
		}
	}
	mark, err := w.Mark()
	if err != nil {
		return err
	}
	if cmdSeq > mark {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], cmdSeq)
		if err := b.Set([]byte(markKey), v[:], nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Mark is the highest command seq stored by PutCommand, or zero.
func (w *ExitWAL) Mark() (uint64, error) {
	val, closer, err := w.db.Get([]byte(markKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.Wrapf(ErrInvalidRecord, "command mark: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// UpdateState moves a record to state and stamps the attempt time.
func (w *ExitWAL) UpdateState(seq uint64, state ExitState, retries uint32) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = w.now().UnixNano()
	return w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (w *ExitWAL) Delete(seq uint64) error {
	return w.db.Delete(keyFor(seq), pebble.Sync)
}

func (w *ExitWAL) Get(seq uint64) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return ExitRecord{}, errors.Wrapf(ErrNotFound, "seq %d", seq)
	}
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// LastSeq is the highest event seq stored, or zero.
func (w *ExitWAL) LastSeq() (uint64, error) {
	iter, err := w.newIter()
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// DeleteAckedUpTo removes ACKED records with seq <= upTo.
func (w *ExitWAL) DeleteAckedUpTo(upTo uint64) (int, error) {
	b := w.db.NewBatch()
	defer b.Close()
	n := 0
	err := w.scan(func(rec ExitRecord) (bool, error) {
		if rec.Seq > upTo {
			return false, nil
		}
		if rec.State == StateAcked {
			n++
			return true, b.Delete(keyFor(rec.Seq), nil)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, b.Commit(pebble.Sync)
}

// -------------------- Scan --------------------

// ScanByState calls fn for each record in state, in seq order.
func (w *ExitWAL) ScanByState(state ExitState, fn func(rec ExitRecord) error) error {
	return w.scan(func(rec ExitRecord) (bool, error) {
		if rec.State != state {
			return true, nil
		}
		return true, fn(rec)
	})
}

// Count returns the number of records per state.
func (w *ExitWAL) Count() (map[ExitState]int, error) {
	out := map[ExitState]int{}
	err := w.scan(func(rec ExitRecord) (bool, error) {
		out[rec.State]++
		return true, nil
	})
	return out, err
}

func (w *ExitWAL) scan(fn func(ExitRecord) (bool, error)) error {
	iter, err := w.newIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		more, err := fn(rec)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func (w *ExitWAL) newIter() (*pebble.Iterator, error) {
	return w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "event/"
	markKey   = "meta/command"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	seq, err := strconv.ParseUint(strings.TrimPrefix(string(b), keyPrefix), 10, 64)
	return seq, errors.Wrapf(err, "outbox key %q", b)
}
