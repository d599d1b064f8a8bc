package service

import (
	"github.com/cockroachdb/errors"

	entrywal "tradebook/infra/wal/entry"
	"tradebook/snapshot"
)

var ErrReplayDiverged = errors.New("journaled command failed on replay")

// Replay re-applies journal records after the current seq. Each command
// runs at its recorded time. Events of commands past the outbox mark are
// written to the outbox again; earlier ones are dropped. Replay must
// finish before the exchange takes traffic.
func (x *Exchange) Replay(dir string) (applied int, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var mark uint64
	if x.outbox != nil {
		if mark, err = x.outbox.Mark(); err != nil {
			return 0, errors.Wrap(err, "outbox mark")
		}
	}
	rebuilt := 0

	from := x.seq.Current()
	last, err := entrywal.Replay(dir, from, func(rec *entrywal.Record) error {
		cmd, err := UnmarshalCommand(rec.Type, rec.Data)
		if err != nil {
			return err
		}
		x.clock.Set(rec.At())
		err = x.state.Atomic(func() error {
			_, err := x.apply(cmd)
			return err
		})
		evs := x.events.Drain()
		if err != nil {
			return errors.Mark(err, ErrReplayDiverged)
		}
		if rec.Seq > mark && len(evs) > 0 {
			if err := x.publish(rec.Seq, rec.At(), evs); err != nil {
				return errors.Wrapf(err, "outbox seq %d", rec.Seq)
			}
			rebuilt += len(evs)
		}
		x.seq.Observe(rec.Seq)
		applied++
		return nil
	})
	if err != nil {
		return applied, err
	}
	x.seq.Observe(last)
	x.log.Info().Uint64("from", from).Uint64("last", last).Int("applied", applied).Int("events_rebuilt", rebuilt).Msg("journal replayed")
	return applied, nil
}

// Recover loads the snapshot in snapDir, if any, then replays the journal
// in walDir on top of it.
func (x *Exchange) Recover(snapDir, walDir string) (applied int, err error) {
	s, ok, err := snapshot.Load(snapDir)
	if err != nil {
		return 0, err
	}
	if ok {
		if err := x.Restore(s); err != nil {
			return 0, err
		}
	}
	return x.Replay(walDir)
}
