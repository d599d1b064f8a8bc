package snapshot

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Load reads the snapshot in dir. A missing snapshot is not an error: ok
// is false and the caller starts from an empty state.
func Load(dir string) (s *State, ok bool, err error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "open snapshot")
	}
	defer f.Close()

	s = &State{}
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(s); err != nil {
		return nil, false, errors.Wrap(err, "decode snapshot")
	}
	return s, true, nil
}
