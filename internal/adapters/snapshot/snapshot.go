// Package snapshot persists reference tables as JSON files so a run can fall
// back to the last good copy when the upstream source is unreachable.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrMissing is returned by Load when no snapshot exists under the name.
var ErrMissing = xerrors.New("snapshot missing")

type Store struct {
	fs  afero.Fs
	dir string
}

func New(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save writes v under name. The file is replaced by rename so a crashed write
// never leaves a truncated snapshot behind.
func (s *Store) Save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("encode snapshot %s: %w", name, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return xerrors.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path(name) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return xerrors.Errorf("write snapshot %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, s.path(name)); err != nil {
		_ = s.fs.Remove(tmp)
		return xerrors.Errorf("replace snapshot %s: %w", name, err)
	}
	return nil
}

// Load decodes the snapshot stored under name into v.
func (s *Store) Load(name string, v any) error {
	data, err := afero.ReadFile(s.fs, s.path(name))
	if err != nil {
		if xerrors.Is(err, os.ErrNotExist) {
			return ErrMissing
		}
		return xerrors.Errorf("read snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return xerrors.Errorf("decode snapshot %s: %w", name, err)
	}
	return nil
}
