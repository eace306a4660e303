// Package store is the durable state layer: the dedup set of processed
// items, the stats ledger, the capped response log, and the serialized
// browser session blob. Everything lives in one SQLite database.
package store

import (
	"database/sql"

	"github.com/hazyhaar/engage/internal/dbopen"
)

// Store wraps the engage state database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Open opens (or creates) the state database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}
