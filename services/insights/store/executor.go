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
	"log/slog"

	"github.com/AleutianAI/insights/services/insights/safety"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MaxReturnedRows caps how many rows of an admitted query are ever serialized
// and exposed outside the trust boundary. The exact match count is still
// reported, so callers know when a result was truncated.
const MaxReturnedRows = 100

// QueryResult is the bounded, serializable result of an admitted query.
//
// Invariant: Rows reflects the true match count even when Data is truncated
// to MaxReturnedRows entries.
type QueryResult struct {
	// Rows is the exact number of rows the query matched.
	Rows int `json:"rows"`

	// Data holds at most MaxReturnedRows row mappings (column name to value)
	// in result order.
	Data []map[string]any `json:"data"`
}

// ExecutionError reports a store-level failure executing an admitted query
// (malformed SQL, missing table or column, type error).
//
// Description:
//
//	Carries the underlying driver message verbatim so it can be surfaced to
//	the model backend as a tool outcome for a corrective retry. Not fatal to
//	the turn.
type ExecutionError struct {
	// Query is the admitted query that failed.
	Query string

	// Cause is the underlying driver error.
	Cause error
}

func (e *ExecutionError) Error() string {
	return e.Cause.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Execute runs an admitted read-only query and returns a bounded result set.
//
// Description:
//
//	Re-validates the query against the safety policy before touching the
//	store (never trust a caller to have validated), opens a scoped
//	connection, runs the query, and serializes at most MaxReturnedRows rows
//	as column-to-value maps while counting every matched row.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - query: The candidate query. Must pass safety.Validate.
//
// Outputs:
//   - *QueryResult: Exact match count plus at most MaxReturnedRows rows.
//   - error: *safety.RejectionReason if the query fails the policy,
//     *ExecutionError on a store-level failure.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Execute(ctx context.Context, query string) (*QueryResult, error) {
	ctx, span := otel.Tracer("aleutian.insights").Start(ctx, "store.execute")
	defer span.End()

	if err := safety.Validate(query); err != nil {
		span.SetStatus(codes.Error, "query rejected by safety policy")
		span.SetAttributes(attribute.String("rejection", err.Error()))
		slog.Error("Query blocked for safety",
			slog.String("query", query),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}

	slog.Info("Running query", slog.String("query", query))

	db, err := s.open()
	if err != nil {
		span.SetStatus(codes.Error, "store unreachable")
		return nil, &ExecutionError{Query: query, Cause: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, "query failed")
		slog.Error("Query failed",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		return nil, &ExecutionError{Query: query, Cause: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &ExecutionError{Query: query, Cause: err}
	}

	result := &QueryResult{Data: []map[string]any{}}
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		result.Rows++
		if len(result.Data) >= MaxReturnedRows {
			// Keep counting matches without serializing further rows.
			continue
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, &ExecutionError{Query: query, Cause: err}
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Data = append(result.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{Query: query, Cause: err}
	}

	span.SetAttributes(
		attribute.Int("rows_matched", result.Rows),
		attribute.Int("rows_returned", len(result.Data)),
	)
	slog.Info("Query succeeded",
		slog.Int("rows_matched", result.Rows),
		slog.Int("rows_returned", len(result.Data)),
	)
	return result, nil
}

// normalizeValue converts driver values into JSON-friendly types.
//
// The sqlite3 driver returns []byte for TEXT in some paths; stringify those
// so tool result payloads serialize as strings rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
