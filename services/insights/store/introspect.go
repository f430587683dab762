// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// ColumnDescriptor is one column of a table: name plus declared SQLite type.
type ColumnDescriptor struct {
	// Name is the column name as declared.
	Name string `json:"name"`

	// Type is the declared type affinity (e.g. "INTEGER", "REAL", "TEXT").
	Type string `json:"type"`
}

// TableDescriptor is one table with its ordered columns.
type TableDescriptor struct {
	// Name is the table name.
	Name string `json:"name"`

	// Columns lists the columns in declaration order.
	Columns []ColumnDescriptor `json:"columns"`
}

// SchemaDescriptor is an immutable structural snapshot of the database.
//
// Description:
//
//	Contains table and view metadata only; never row values. A fresh
//	snapshot is taken at the start of every orchestration turn so schema
//	changes are always reflected in the next turn's system context.
//
// Thread Safety: SchemaDescriptor is immutable after Describe returns and
// safe for concurrent read access.
type SchemaDescriptor struct {
	// Tables lists tables in sqlite_master order.
	Tables []TableDescriptor `json:"tables"`

	// Views lists view names, kept separate from tables.
	Views []string `json:"views"`
}

// IntrospectionError reports that schema metadata could not be enumerated.
//
// This is fatal for the current turn: the orchestration cannot build a system
// context without a schema.
type IntrospectionError struct {
	// Cause is the underlying store failure.
	Cause error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("store: schema introspection failed: %v", e.Cause)
}

func (e *IntrospectionError) Unwrap() error {
	return e.Cause
}

// Describe enumerates tables, views, and per-table column metadata.
//
// Description:
//
//	Reads sqlite_master for table and view names, then PRAGMA table_info
//	per table for ordered column name/type pairs. Only structural metadata
//	is read; table contents are never queried.
//
// Inputs:
//   - ctx: Context for cancellation.
//
// Outputs:
//   - *SchemaDescriptor: The structural snapshot.
//   - error: *IntrospectionError if the store is unreachable or metadata
//     enumeration fails.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Describe(ctx context.Context) (*SchemaDescriptor, error) {
	db, err := s.open()
	if err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	defer rows.Close()

	schema := &SchemaDescriptor{}
	var tableNames []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, &IntrospectionError{Cause: err}
		}
		if kind == "view" {
			schema.Views = append(schema.Views, name)
		} else {
			tableNames = append(tableNames, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &IntrospectionError{Cause: err}
	}

	for _, table := range tableNames {
		columns, err := s.describeColumns(ctx, db, table)
		if err != nil {
			return nil, &IntrospectionError{Cause: err}
		}
		schema.Tables = append(schema.Tables, TableDescriptor{Name: table, Columns: columns})
	}

	slog.Debug("Schema snapshot taken",
		slog.Int("tables", len(schema.Tables)),
		slog.Int("views", len(schema.Views)),
	)
	return schema, nil
}

// describeColumns reads PRAGMA table_info for one table.
//
// PRAGMA table_info returns (cid, name, type, notnull, dflt_value, pk) per
// column in declaration order.
func (s *Store) describeColumns(ctx context.Context, db *sql.DB, table string) ([]ColumnDescriptor, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table_info(%s): %w", table, err)
	}
	defer rows.Close()

	var columns []ColumnDescriptor
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("table_info(%s): %w", table, err)
		}
		columns = append(columns, ColumnDescriptor{Name: name, Type: typ})
	}
	return columns, rows.Err()
}

// quoteIdent quotes a SQL identifier, doubling embedded double quotes per the
// SQL rule (Go's %q would emit a backslash escape instead).
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// RenderText renders the schema as deterministic, human-readable text for
// the model backend's system context.
//
// Description:
//
//	Produces one line per table ("name: col (TYPE), col (TYPE), ...") under
//	a fixed heading, with views listed separately. The rendering is purely a
//	function of the descriptor, so equal snapshots always produce equal text.
//
// Outputs:
//   - string: The rendered schema text. Never contains row values.
func (d *SchemaDescriptor) RenderText() string {
	var b strings.Builder
	b.WriteString("Database Schema:\n")
	for _, table := range d.Tables {
		parts := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			parts = append(parts, fmt.Sprintf("%s (%s)", col.Name, col.Type))
		}
		b.WriteString(fmt.Sprintf("\n%s: %s", table.Name, strings.Join(parts, ", ")))
	}
	if len(d.Views) > 0 {
		b.WriteString("\n\nViews: " + strings.Join(d.Views, ", "))
	}
	return b.String()
}
