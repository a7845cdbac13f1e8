// Package file persists each key as a JSON document in a directory.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core/attendance"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type Store struct {
	dir   string
	mutex sync.Mutex
}

var _ attendance.Store = (*Store)(nil)

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating storage dir")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *Store) Load(_ context.Context, key string, dst interface{}) (bool, error) {
	fp, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mutex.Lock()
	data, err := os.ReadFile(fp)
	s.mutex.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "reading %q", key)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, errors.Wrapf(err, "decoding %q", key)
	}
	return true, nil
}

// Save writes to a temp file first and renames it over the previous value.
func (s *Store) Save(_ context.Context, key string, v interface{}) error {
	fp, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "saving %q", key)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "saving %q", key)
	}
	if err := os.Rename(tmp.Name(), fp); err != nil {
		return errors.Wrapf(err, "saving %q", key)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	fp, err := s.path(key)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := os.Remove(fp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "deleting %q", key)
	}
	return nil
}
