// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/insights/services/insights/store"
	"github.com/AleutianAI/insights/services/insights/ticket"
	"github.com/AleutianAI/insights/services/llm"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "health.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE patient_health_data (
		Diabetes_binary REAL, HighBP REAL, Smoker REAL, BMI REAL, Age REAL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO patient_health_data VALUES
		(1, 1, 0, 30.5, 9),
		(0, 0, 1, 24.0, 3),
		(0, 1, 0, 27.5, 11),
		(1, 0, 0, 33.0, 13)`)
	require.NoError(t, err)

	ledger, err := ticket.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	return NewRegistry(store.New(path), ledger)
}

func call(name, args string) llm.ToolCallResponse {
	return llm.ToolCallResponse{
		ID:        "call_1",
		Name:      name,
		Arguments: json.RawMessage(args),
	}
}

func decode(t *testing.T, result Result) map[string]any {
	t.Helper()
	payload := make(map[string]any)
	require.NoError(t, json.Unmarshal([]byte(result.Payload), &payload))
	return payload
}

func TestRegistry_Dispatch_ExecuteQuery(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	t.Run("successful select", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("execute_sql_query",
			`{"sql_query": "SELECT Age FROM patient_health_data WHERE Diabetes_binary = 1"}`))

		assert.False(t, result.Err)
		assert.Equal(t, "call_1", result.CallID)

		payload := decode(t, result)
		assert.Equal(t, true, payload["success"])
		assert.Equal(t, float64(2), payload["rows"])
		assert.Len(t, payload["data"], 2)
	})

	t.Run("denied verb is blocked", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("execute_sql_query",
			`{"sql_query": "DELETE FROM patient_health_data"}`))

		assert.True(t, result.Err)
		payload := decode(t, result)
		assert.Equal(t, true, payload["blocked"])
		assert.Contains(t, payload["error"], "DELETE")
		assert.NotContains(t, payload, "success")
	})

	t.Run("store failure is a tool outcome", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("execute_sql_query",
			`{"sql_query": "SELECT nope FROM missing_table"}`))

		assert.True(t, result.Err)
		payload := decode(t, result)
		assert.Equal(t, false, payload["success"])
		assert.NotEmpty(t, payload["error"])
		assert.NotContains(t, payload, "blocked")
	})

	t.Run("missing sql_query argument", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("execute_sql_query", `{}`))

		assert.True(t, result.Err)
		payload := decode(t, result)
		assert.Contains(t, payload["error"], "sql_query")
	})
}

func TestRegistry_Dispatch_Statistics(t *testing.T) {
	registry := newTestRegistry(t)

	result := registry.Dispatch(context.Background(), call("get_database_statistics", `{}`))
	assert.False(t, result.Err)

	payload := decode(t, result)
	assert.Equal(t, float64(4), payload["total_patients"])
	assert.Equal(t, float64(2), payload["diabetic_patients"])
	assert.Equal(t, float64(50.0), payload["diabetes_rate_pct"])
	assert.Equal(t, float64(28.8), payload["avg_bmi"])
	assert.Equal(t, float64(50.0), payload["high_bp_rate_pct"])
	assert.Equal(t, float64(25.0), payload["smoker_rate_pct"])
}

func TestRegistry_Dispatch_CreateTicket(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	t.Run("creates ticket with both arguments", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("create_support_ticket",
			`{"issue_description": "cannot answer billing question", "user_question": "why was I charged twice?"}`))

		assert.False(t, result.Err)
		payload := decode(t, result)
		assert.Equal(t, "created", payload["status"])
		assert.Regexp(t, `^TICKET-\d{8}-\d{6}-[0-9a-f]{8}$`, payload["ticket_id"])
		assert.Equal(t, "Your support ticket has been created and logged for review.", payload["message"])
	})

	t.Run("user_question is optional", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("create_support_ticket",
			`{"issue_description": "needs human help"}`))

		assert.False(t, result.Err)
		payload := decode(t, result)
		assert.Equal(t, "created", payload["status"])
	})

	t.Run("missing issue_description", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("create_support_ticket", `{}`))

		assert.True(t, result.Err)
		payload := decode(t, result)
		assert.Contains(t, payload["error"], "issue_description")
		assert.NotContains(t, payload, "ticket_id")
	})
}

func TestRegistry_Dispatch_Degenerate(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	t.Run("unknown tool name", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("drop_all_tables", `{}`))

		assert.True(t, result.Err)
		payload := decode(t, result)
		assert.Contains(t, payload["error"], "drop_all_tables")
	})

	t.Run("malformed argument JSON", func(t *testing.T) {
		result := registry.Dispatch(ctx, call("execute_sql_query", `{"sql_query":`))

		assert.True(t, result.Err)
		payload := decode(t, result)
		assert.Contains(t, payload["error"], "Invalid arguments")
	})

	t.Run("empty arguments decode as empty object", func(t *testing.T) {
		result := registry.Dispatch(ctx, llm.ToolCallResponse{
			ID:   "call_2",
			Name: "get_database_statistics",
		})
		assert.False(t, result.Err)
	})
}

func TestDeclarations(t *testing.T) {
	decls := Declarations()
	require.Len(t, decls, 3)

	byName := make(map[string]llm.ToolDef)
	for _, d := range decls {
		assert.Equal(t, "function", d.Type)
		assert.Equal(t, "object", d.Function.Parameters.Type)
		byName[d.Function.Name] = d
	}

	query, ok := byName["execute_sql_query"]
	require.True(t, ok)
	assert.Equal(t, []string{"sql_query"}, query.Function.Parameters.Required)
	assert.Equal(t, "string", query.Function.Parameters.Properties["sql_query"].Type)

	stats, ok := byName["get_database_statistics"]
	require.True(t, ok)
	assert.Empty(t, stats.Function.Parameters.Required)

	tick, ok := byName["create_support_ticket"]
	require.True(t, ok)
	assert.Equal(t, []string{"issue_description"}, tick.Function.Parameters.Required)
	assert.Contains(t, tick.Function.Parameters.Properties, "user_question")
}

func TestCapabilityForName(t *testing.T) {
	for _, name := range []string{"execute_sql_query", "get_database_statistics", "create_support_ticket"} {
		capability, ok := CapabilityForName(name)
		assert.True(t, ok, name)
		assert.Equal(t, name, capability.Name())
	}

	_, ok := CapabilityForName("execute_shell_command")
	assert.False(t, ok)
}
