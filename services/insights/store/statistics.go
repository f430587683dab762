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
	"math"
)

// surveyTable is the table the precomputed aggregates run against.
const surveyTable = "patient_health_data"

// Statistics is the fixed aggregate overview of the survey database.
//
// Description:
//
//	A small, closed set of precomputed aggregates: total record count,
//	binary-indicator positive counts and rates, and the BMI mean. Computed
//	via predetermined aggregate queries, bypassing free-text SQL entirely,
//	so no untrusted input is involved.
type Statistics struct {
	// TotalPatients is the total number of survey records.
	TotalPatients int `json:"total_patients"`

	// DiabeticPatients counts records with Diabetes_binary = 1.
	DiabeticPatients int `json:"diabetic_patients"`

	// DiabetesRatePct is DiabeticPatients over TotalPatients as a percentage,
	// rounded to two decimals.
	DiabetesRatePct float64 `json:"diabetes_rate_pct"`

	// AvgBMI is the mean BMI rounded to one decimal.
	AvgBMI float64 `json:"avg_bmi"`

	// HighBPRatePct is the HighBP positive rate as a percentage, one decimal.
	HighBPRatePct float64 `json:"high_bp_rate_pct"`

	// SmokerRatePct is the Smoker positive rate as a percentage, one decimal.
	SmokerRatePct float64 `json:"smoker_rate_pct"`
}

// Statistics computes the fixed aggregate overview.
//
// Description:
//
//	Runs the predetermined COUNT/SUM/AVG queries on a single scoped
//	connection. With no intervening store mutation, two invocations yield
//	identical results.
//
// Inputs:
//   - ctx: Context for cancellation.
//
// Outputs:
//   - *Statistics: The aggregate overview.
//   - error: *ExecutionError if any aggregate query fails.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	slog.Info("Computing database statistics")

	db, err := s.open()
	if err != nil {
		return nil, &ExecutionError{Query: "statistics", Cause: err}
	}
	defer db.Close()

	total, err := queryScalar(ctx, db, fmt.Sprintf("SELECT COUNT(*) FROM %s", surveyTable))
	if err != nil {
		return nil, &ExecutionError{Query: "statistics", Cause: err}
	}
	diabetic, err := queryScalar(ctx, db, fmt.Sprintf("SELECT SUM(Diabetes_binary) FROM %s", surveyTable))
	if err != nil {
		return nil, &ExecutionError{Query: "statistics", Cause: err}
	}
	avgBMI, err := queryScalar(ctx, db, fmt.Sprintf("SELECT AVG(BMI) FROM %s", surveyTable))
	if err != nil {
		return nil, &ExecutionError{Query: "statistics", Cause: err}
	}
	highBP, err := queryScalar(ctx, db, fmt.Sprintf("SELECT SUM(HighBP) FROM %s", surveyTable))
	if err != nil {
		return nil, &ExecutionError{Query: "statistics", Cause: err}
	}
	smokers, err := queryScalar(ctx, db, fmt.Sprintf("SELECT SUM(Smoker) FROM %s", surveyTable))
	if err != nil {
		return nil, &ExecutionError{Query: "statistics", Cause: err}
	}

	stats := &Statistics{
		TotalPatients:    int(total),
		DiabeticPatients: int(diabetic),
		AvgBMI:           roundTo(avgBMI, 1),
	}
	if stats.TotalPatients > 0 {
		stats.DiabetesRatePct = roundTo(diabetic/total*100, 2)
		stats.HighBPRatePct = roundTo(highBP/total*100, 1)
		stats.SmokerRatePct = roundTo(smokers/total*100, 1)
	}

	slog.Info("Statistics computed", slog.Int("total_patients", stats.TotalPatients))
	return stats, nil
}

// queryScalar runs a single-value aggregate query on an open connection.
// NULL aggregates (e.g. SUM over an empty table) read as zero.
func queryScalar(ctx context.Context, db *sql.DB, query string) (float64, error) {
	var value sql.NullFloat64
	if err := db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return 0, fmt.Errorf("aggregate %q: %w", query, err)
	}
	if !value.Valid {
		return 0, nil
	}
	return value.Float64, nil
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
