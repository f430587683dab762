// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides read-only access to the backing SQLite survey
// database: structural introspection, safety-gated query execution, and a
// fixed set of precomputed aggregate statistics.
//
// The store never holds a long-lived connection. Every operation opens its
// own scoped connection and closes it before returning, so concurrent turns
// never share connection state and the database stays read-only from this
// package's perspective.
package store

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

// Store is the handle to the backing SQLite database.
//
// Description:
//
//	Holds the database path and an opener used to acquire a scoped
//	connection per operation. Constructed once at process start and passed
//	by reference; never accessed as ambient global state.
//
// Thread Safety: Store is immutable after construction and safe for
// concurrent use. Each operation uses its own connection.
type Store struct {
	path string
	open func() (*sql.DB, error)
}

// New creates a Store for the SQLite database at path.
//
// The path is not validated here; an unreachable or missing database surfaces
// as an introspection or execution error on first use.
func New(path string) *Store {
	return &Store{
		path: path,
		open: func() (*sql.DB, error) {
			db, err := sql.Open("sqlite3", path)
			if err != nil {
				return nil, fmt.Errorf("store: opening database %q: %w", path, err)
			}
			return db, nil
		},
	}
}

// NewWithOpener creates a Store that acquires connections from opener.
//
// Description:
//
//	Used by tests to inject a mock database (e.g. go-sqlmock) without
//	touching the filesystem. Production code should use New.
func NewWithOpener(opener func() (*sql.DB, error)) *Store {
	return &Store{path: "(injected)", open: opener}
}

// Path returns the configured database path.
func (s *Store) Path() string {
	return s.path
}
