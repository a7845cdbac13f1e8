// Package sqlxstore is the Postgres implementation of the local key/value store.
package sqlxstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core/attendance"
)

const (
	selectQuery = `SELECT value FROM kv_store WHERE key = $1`
	upsertQuery = `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	deleteQuery = `DELETE FROM kv_store WHERE key = $1`
)

type Store struct {
	db *sqlx.DB
}

var _ attendance.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Load(ctx context.Context, key string, dst interface{}) (bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, selectQuery, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "loading %q", key)
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return true, errors.Wrapf(err, "decoding %q", key)
	}
	return true, nil
}

func (s *Store) Save(ctx context.Context, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}
	if _, err := s.db.ExecContext(ctx, upsertQuery, key, value); err != nil {
		return errors.Wrapf(err, "saving %q", key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteQuery, key); err != nil {
		return errors.Wrapf(err, "deleting %q", key)
	}
	return nil
}
