// Package inmem is a map-backed key/value store. Values are kept JSON-encoded so that
// callers never share memory with the store.
package inmem

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core/attendance"
)

type Store struct {
	mutex sync.RWMutex
	table map[string][]byte
}

var _ attendance.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{table: make(map[string][]byte)}
}

func (s *Store) Load(_ context.Context, key string, dst interface{}) (bool, error) {
	s.mutex.RLock()
	data, ok := s.table[key]
	s.mutex.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, errors.Wrapf(err, "decoding %q", key)
	}
	return true, nil
}

func (s *Store) Save(_ context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.table[key] = data
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.table, key)
	return nil
}

// Raw returns the encoded value stored under key.
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	data, ok := s.table[key]
	return data, ok
}

// Put stores already encoded data under key.
func (s *Store) Put(key string, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.table[key] = append([]byte(nil), data...)
}
