package snapshot

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

type Writer struct {
	Dir string
}

func (w *Writer) Path() string { return filepath.Join(w.Dir, FileName) }

// Write stores s, replacing any previous snapshot.
func (w *Writer) Write(s *State) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	tmp, err := os.CreateTemp(w.Dir, FileName+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create snapshot temp file")
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(buf).Encode(s); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "encode snapshot at seq %d", s.Seq)
	}
	if err := buf.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), w.Path()), "publish snapshot")
}
