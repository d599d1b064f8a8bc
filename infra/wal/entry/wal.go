// Package entry is the command journal: every committed command is
// appended as a checksummed frame to rotated segment files and
// replayed on startup after the last snapshot.
package entry

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const DefaultSegmentSize = 64 << 20

type Config struct {
	Dir         string
	SegmentSize int64
	// SegmentDuration also rotates a non-empty segment once it has been
	// open this long. Zero rotates by size only.
	SegmentDuration time.Duration
	// SyncWrites fsyncs after every append.
	SyncWrites bool
	Log        zerolog.Logger
}

type WAL struct {
	mu         sync.Mutex
	dir        string
	segSize    int64
	segDur     time.Duration
	syncWrites bool
	current    *segment
	openedAt   time.Time
	lastSeq    uint64
	log        zerolog.Logger

	open func(dir string, index int) (*segment, error)
	// pendingRotate is set when rotation failed after a durable append.
	pendingRotate bool
	broken        error
}

// Open resumes the newest segment. A torn frame left by a crash is cut off
// so new records append after the last intact one.
func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}
	idx, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segDur:     cfg.SegmentDuration,
		syncWrites: cfg.SyncWrites,
		log:        cfg.Log.With().Str("module", "journal").Logger(),
		open:       openSegment,
	}
	head := 0
	if len(idx) > 0 {
		head = idx[len(idx)-1]
	}
	for i := len(idx) - 1; i >= 0; i-- {
		path := segmentPath(cfg.Dir, idx[i])
		last, valid, err := scanSegment(path, nil)
		if err != nil {
			return nil, err
		}
		if idx[i] == head {
			if err := os.Truncate(path, valid); err != nil {
				return nil, errors.Wrap(err, "cut torn frame")
			}
		}
		if last > 0 {
			w.lastSeq = last
			break
		}
	}

	seg, err := openSegment(cfg.Dir, head)
	if err != nil {
		return nil, err
	}
	w.current = seg
	w.openedAt = time.Now()
	return w, nil
}

// LastSeq is the seq of the newest record in the journal.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Append writes r. An error means r is not in the journal: a frame whose
// write or sync failed is cut back off. Once Append returns nil the record
// stays, even if the rotation that follows fails; that rotation is retried
// on the next append.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return w.broken
	}
	if r.Seq <= w.lastSeq {
		return errors.Wrapf(ErrNonMonotonic, "append %d after %d", r.Seq, w.lastSeq)
	}
	if len(r.Data) > maxPayload {
		return errors.Wrapf(ErrPayloadTooBig, "%d bytes", len(r.Data))
	}
	if w.pendingRotate {
		w.tryRotate()
	}

	start := w.current.offset
	if err := w.current.append(encodeFrame(r)); err != nil {
		if errors.Is(err, ErrBroken) {
			w.broken = err
		}
		return errors.Wrap(err, "journal append")
	}
	if w.syncWrites {
		if err := w.current.sync(); err != nil {
			if terr := w.current.truncate(start); terr != nil {
				w.broken = errors.Mark(errors.CombineErrors(err, terr), ErrBroken)
				return w.broken
			}
			return errors.Wrap(err, "journal sync")
		}
	}
	w.lastSeq = r.Seq

	if w.shouldRotate() {
		w.tryRotate()
	}
	return nil
}

func (w *WAL) tryRotate() {
	if err := w.rotate(); err != nil {
		w.pendingRotate = true
		w.log.Warn().Err(err).Int("segment", w.current.index).Msg("rotate failed, retrying on next append")
		return
	}
	w.pendingRotate = false
}

func (w *WAL) shouldRotate() bool {
	if w.current.offset >= w.segSize {
		return true
	}
	return w.segDur > 0 && time.Since(w.openedAt) >= w.segDur
}

// rotate keeps the current segment open until its successor exists.
func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return errors.Wrap(err, "sync segment")
	}
	seg, err := w.open(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	_ = w.current.close()
	w.current = seg
	w.openedAt = time.Now()
	return nil
}

// TruncateBefore removes closed segments whose records all have seq <= seq.
// The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	for _, i := range idx {
		if i >= w.current.index {
			break
		}
		path := segmentPath(w.dir, i)
		last, _, err := scanSegment(path, nil)
		if err != nil {
			return err
		}
		if last > seq {
			break
		}
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "remove %s", path)
		}
	}
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.current.sync(); err != nil {
		return err
	}
	return w.current.close()
}
