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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore wraps a sqlmock database in a Store. The mock is handed out by
// the opener exactly once per operation, matching the scoped-connection model.
func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })

	return NewWithOpener(func() (*sql.DB, error) { return db, nil }), mock
}

func TestExecute_DriverErrorBecomesExecutionError(t *testing.T) {
	s, mock := mockStore(t)

	query := "SELECT missing_col FROM patient_health_data"
	mock.ExpectQuery(query).WillReturnError(fmt.Errorf("no such column: missing_col"))
	mock.ExpectClose()

	_, err := s.Execute(context.Background(), query)
	require.Error(t, err)

	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "no such column: missing_col", eerr.Error())
	assert.Equal(t, query, eerr.Query)
}

func TestExecute_RejectedQueryNeverReachesStore(t *testing.T) {
	s, mock := mockStore(t)
	_ = mock // no expectations: the store must not be touched

	_, err := s.Execute(context.Background(), "DROP TABLE patient_health_data")
	require.Error(t, err)
}

func TestDescribe_MetadataEnumerationFailure(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery("SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'").
		WillReturnError(fmt.Errorf("database is locked"))
	mock.ExpectClose()

	_, err := s.Describe(context.Background())
	require.Error(t, err)

	var ierr *IntrospectionError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Error(), "database is locked")
}

func TestStatistics_AggregateFailure(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery("SELECT COUNT(*) FROM patient_health_data").
		WillReturnError(fmt.Errorf("disk I/O error"))
	mock.ExpectClose()

	_, err := s.Statistics(context.Background())
	require.Error(t, err)

	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Contains(t, eerr.Error(), "disk I/O error")
}
