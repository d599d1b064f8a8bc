package entry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

const segmentPattern = "segment-*.wal"

type segment struct {
	index  int
	path   string
	file   *os.File
	offset int64
	write  func([]byte) (int, error)
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.wal", index))
}

func openSegment(dir string, index int) (*segment, error) {
	path := segmentPath(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open segment %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{index: index, path: path, file: f, offset: st.Size(), write: f.Write}, nil
}

// append writes one frame. A failed or short write is cut back off so the
// segment never holds a partial frame ahead of later ones.
func (s *segment) append(b []byte) error {
	start := s.offset
	n, err := s.write(b)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if terr := s.truncate(start); terr != nil {
				return errors.Mark(errors.CombineErrors(err, terr), ErrBroken)
			}
		}
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *segment) truncate(size int64) error {
	if err := s.file.Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s", s.path)
	}
	s.offset = size
	return nil
}

func (s *segment) sync() error  { return s.file.Sync() }
func (s *segment) close() error { return s.file.Close() }

// listSegments returns segment indexes in ascending order.
func listSegments(dir string) ([]int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, segmentPattern))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(paths))
	for _, p := range paths {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(p), "segment-%06d.wal", &idx); err != nil {
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// scanSegment walks every intact frame of a segment. It reports the seq of
// the last intact frame and the byte length they occupy; a torn tail is
// not an error here.
func scanSegment(path string, fn func(*Record) error) (lastSeq uint64, valid int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, n, err := readFrame(r)
		if err == io.EOF || errors.Is(err, ErrTorn) {
			return lastSeq, valid, nil
		}
		if err != nil {
			return lastSeq, valid, errors.Wrapf(err, "%s at offset %d", filepath.Base(path), valid)
		}
		if fn != nil {
			if err := fn(rec); err != nil {
				return lastSeq, valid, err
			}
		}
		lastSeq = rec.Seq
		valid += int64(n)
	}
}
