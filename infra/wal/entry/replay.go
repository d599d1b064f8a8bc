package entry

import (
	"github.com/cockroachdb/errors"
)

type ReplayHandler func(*Record) error

// Replay streams every record with seq > fromSeq in journal order and
// returns the last seq seen. A torn frame ends its segment quietly; a
// checksum mismatch or a seq that does not increase is an error.
func Replay(dir string, fromSeq uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	idx, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	lastSeq = fromSeq
	var prev uint64
	for _, i := range idx {
		_, _, err := scanSegment(segmentPath(dir, i), func(rec *Record) error {
			if prev != 0 && rec.Seq <= prev {
				return errors.Wrapf(ErrNonMonotonic, "seq %d after %d", rec.Seq, prev)
			}
			prev = rec.Seq
			if rec.Seq <= fromSeq {
				return nil
			}
			if err := fn(rec); err != nil {
				return errors.Wrapf(err, "replay %s seq %d", rec.Type, rec.Seq)
			}
			lastSeq = rec.Seq
			return nil
		})
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}
