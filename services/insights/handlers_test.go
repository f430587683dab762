// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package insights

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/insights/services/insights/config"
	"github.com/AleutianAI/insights/services/llm"
)

// scriptedBackend returns canned results in call order.
type scriptedBackend struct {
	results []*llm.ChatWithToolsResult
	calls   int
}

func (s *scriptedBackend) ChatWithTools(context.Context, []llm.ChatMessage, llm.GenerationParams, []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.results) {
		return s.results[s.calls], nil
	}
	return &llm.ChatWithToolsResult{Content: "unscripted", StopReason: "end"}, nil
}

func newTestRouter(t *testing.T, backend llm.Backend) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "health.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE patient_health_data (
		Diabetes_binary REAL, HighBP REAL, Smoker REAL, BMI REAL, Age REAL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO patient_health_data VALUES (1, 0, 1, 29.0, 6), (0, 1, 0, 24.5, 4)`)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.DatabasePath = dbPath
	cfg.TurnTimeout = time.Minute

	service, err := NewService(cfg, backend)
	require.NoError(t, err)
	t.Cleanup(func() { service.Close() })

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(service))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	decoded := make(map[string]any)
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHandleAsk(t *testing.T) {
	t.Run("direct answer", func(t *testing.T) {
		router := newTestRouter(t, &scriptedBackend{
			results: []*llm.ChatWithToolsResult{
				{Content: "About half the patients are diabetic.", StopReason: "end"},
			},
		})

		w, body := doJSON(t, router, http.MethodPost, "/v1/insights/ask",
			`{"question": "how many diabetics?"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "About half the patients are diabetic.", body["answer"])
		assert.Equal(t, false, body["failed"])
		assert.NotEmpty(t, body["request_id"])
	})

	t.Run("tool round is reported in the trace", func(t *testing.T) {
		router := newTestRouter(t, &scriptedBackend{
			results: []*llm.ChatWithToolsResult{
				{
					StopReason: "tool_use",
					ToolCalls: []llm.ToolCallResponse{{
						ID:        "call_1",
						Name:      "get_database_statistics",
						Arguments: json.RawMessage(`{}`),
					}},
				},
				{Content: "There are 2 patients.", StopReason: "end"},
			},
		})

		w, body := doJSON(t, router, http.MethodPost, "/v1/insights/ask",
			`{"question": "give me an overview"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		trace, ok := body["executed_tools"].([]any)
		require.True(t, ok)
		require.Len(t, trace, 1)
		entry := trace[0].(map[string]any)
		assert.Equal(t, "get_database_statistics", entry["name"])
	})

	t.Run("malformed tool arguments still yield a full response", func(t *testing.T) {
		router := newTestRouter(t, &scriptedBackend{
			results: []*llm.ChatWithToolsResult{
				{
					StopReason: "tool_use",
					ToolCalls: []llm.ToolCallResponse{{
						ID:        "call_1",
						Name:      "execute_sql_query",
						Arguments: json.RawMessage(`{"sql_query":`),
					}},
				},
				{Content: "sorry about that", StopReason: "end"},
			},
		})

		w, body := doJSON(t, router, http.MethodPost, "/v1/insights/ask",
			`{"question": "show me something"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "sorry about that", body["answer"])

		trace, ok := body["executed_tools"].([]any)
		require.True(t, ok)
		require.Len(t, trace, 1)
		entry := trace[0].(map[string]any)
		assert.Equal(t, "execute_sql_query", entry["name"])
		assert.Equal(t, true, entry["error"])
		// The malformed blob is preserved, re-encoded as a JSON string.
		assert.Equal(t, `{"sql_query":`, entry["arguments"])
	})

	t.Run("missing question", func(t *testing.T) {
		router := newTestRouter(t, &scriptedBackend{})
		w, body := doJSON(t, router, http.MethodPost, "/v1/insights/ask", `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "MISSING_PARAMETER", body["code"])
	})

	t.Run("blank question", func(t *testing.T) {
		router := newTestRouter(t, &scriptedBackend{})
		w, _ := doJSON(t, router, http.MethodPost, "/v1/insights/ask", `{"question": "   "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("request id echoed", func(t *testing.T) {
		router := newTestRouter(t, &scriptedBackend{
			results: []*llm.ChatWithToolsResult{{Content: "ok", StopReason: "end"}},
		})

		req := httptest.NewRequest(http.MethodPost, "/v1/insights/ask",
			strings.NewReader(`{"question": "hello"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var body AskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "req-42", body.RequestID)
	})
}

func TestHandleSchema(t *testing.T) {
	router := newTestRouter(t, &scriptedBackend{})

	w, body := doJSON(t, router, http.MethodGet, "/v1/insights/schema", "")

	assert.Equal(t, http.StatusOK, w.Code)
	rendered, _ := body["rendered"].(string)
	assert.Contains(t, rendered, "Database Schema:")
	assert.Contains(t, rendered, "patient_health_data")
}

func TestHandleStatistics(t *testing.T) {
	router := newTestRouter(t, &scriptedBackend{})

	w, body := doJSON(t, router, http.MethodGet, "/v1/insights/statistics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total_patients"])
	assert.Equal(t, float64(1), body["diabetic_patients"])
	assert.Equal(t, float64(50.0), body["diabetes_rate_pct"])
}

func TestHandleTickets(t *testing.T) {
	router := newTestRouter(t, &scriptedBackend{})

	t.Run("create then list", func(t *testing.T) {
		w, body := doJSON(t, router, http.MethodPost, "/v1/insights/tickets",
			`{"issue_description": "needs human review", "user_question": "why?"}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		id, _ := body["ticket_id"].(string)
		assert.Regexp(t, `^TICKET-\d{8}-\d{6}-[0-9a-f]{8}$`, id)

		w, body = doJSON(t, router, http.MethodGet, "/v1/insights/tickets", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("missing issue_description", func(t *testing.T) {
		w, body := doJSON(t, router, http.MethodPost, "/v1/insights/tickets", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "MISSING_PARAMETER", body["code"])
	})
}

func TestHandleHealthAndReady(t *testing.T) {
	router := newTestRouter(t, &scriptedBackend{})

	w, body := doJSON(t, router, http.MethodGet, "/v1/insights/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = doJSON(t, router, http.MethodGet, "/v1/insights/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
}
