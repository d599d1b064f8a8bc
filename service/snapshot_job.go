package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"tradebook/snapshot"
)

// WriteSnapshot stores the current state and drops journal segments it
// covers.
func (x *Exchange) WriteSnapshot(w *snapshot.Writer) (uint64, error) {
	s := x.Snapshot()
	if err := w.Write(s); err != nil {
		return 0, err
	}
	if x.journal != nil {
		if err := x.journal.TruncateBefore(s.Seq); err != nil {
			return s.Seq, errors.Wrap(err, "truncate journal")
		}
	}
	return s.Seq, nil
}

// RunSnapshots writes a snapshot every interval until ctx is done, and once
// more on the way out.
func (x *Exchange) RunSnapshots(ctx context.Context, w *snapshot.Writer, interval time.Duration) error {
	log := x.log.With().Str("job", "snapshot").Logger()
	t := time.NewTicker(interval)
	defer t.Stop()

	last := x.LastSeq()
	for {
		select {
		case <-ctx.Done():
			if x.LastSeq() == last {
				return nil
			}
			seq, err := x.WriteSnapshot(w)
			if err != nil {
				return err
			}
			log.Info().Uint64("seq", seq).Msg("final snapshot written")
			return nil
		case <-t.C:
			if x.LastSeq() == last {
				continue
			}
			seq, err := x.WriteSnapshot(w)
			if err != nil {
				log.Error().Err(err).Msg("snapshot failed")
				continue
			}
			last = seq
			log.Info().Uint64("seq", seq).Msg("snapshot written")
		}
	}
}
