// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiClient()
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewGeminiClient_DefaultModel(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_MODEL", "")

	client, err := NewGeminiClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "gemini-1.5-flash" {
		t.Errorf("model = %q, want %q", client.model, "gemini-1.5-flash")
	}
}

func TestNewGeminiClientWithConfig_EmptyBaseURLUsesDefault(t *testing.T) {
	client := NewGeminiClientWithConfig("test-key", "gemini-test", "")
	if client.baseURL != defaultGeminiBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, defaultGeminiBaseURL)
	}
}

func TestGeminiClient_ChatWithTools_FunctionCallResponse(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("x-goog-api-key = %q, want %q", r.Header.Get("x-goog-api-key"), "test-key")
		}
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("path = %q, want model + :generateContent", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := `{
			"candidates": [{
				"content": {
					"role": "model",
					"parts": [
						{"text": "Let me check."},
						{"functionCall": {"name": "get_database_statistics", "args": {}}}
					]
				},
				"finishReason": "STOP"
			}]
		}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("test-key", "gemini-test", server.URL)

	tools := []ToolDef{{
		Type: "function",
		Function: ToolFunction{
			Name:        "get_database_statistics",
			Description: "Summary statistics",
			Parameters:  ToolParameters{Type: "object", Properties: map[string]ToolParamDef{}},
		},
	}}

	messages := []ChatMessage{
		{Role: "system", Content: "Be helpful."},
		{Role: "user", Content: "Give me an overview."},
	}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, tools)
	if err != nil {
		t.Fatalf("ChatWithTools failed: %v", err)
	}

	if result.Content != "Let me check." {
		t.Errorf("Content = %q", result.Content)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "get_database_statistics" {
		t.Errorf("ToolCalls[0].Name = %q", result.ToolCalls[0].Name)
	}
	if result.ToolCalls[0].ID != "gemini-call-0" {
		t.Errorf("ToolCalls[0].ID = %q, want synthetic gemini-call-0", result.ToolCalls[0].ID)
	}
	if result.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", result.StopReason)
	}

	// System prompt goes to systemInstruction, not contents.
	if captured.SystemInstruction == nil ||
		len(captured.SystemInstruction.Parts) != 1 ||
		captured.SystemInstruction.Parts[0].Text != "Be helpful." {
		t.Errorf("SystemInstruction = %+v, want the system prompt", captured.SystemInstruction)
	}
	if len(captured.Tools) != 1 || len(captured.Tools[0].FunctionDeclarations) != 1 {
		t.Errorf("Tools = %+v, want one declaration", captured.Tools)
	}
}

func TestGeminiClient_ChatWithTools_ToolResultConversion(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		resp := `{"candidates":[{"content":{"role":"model","parts":[{"text":"The rate is 13.9%."}]},"finishReason":"STOP"}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("test-key", "gemini-test", server.URL)

	messages := []ChatMessage{
		{Role: "user", Content: "What's the diabetes rate?"},
		{Role: "assistant", ToolCalls: []ToolCallResponse{
			{ID: "gemini-call-0", Name: "get_database_statistics", Arguments: json.RawMessage(`{}`)},
		}},
		{Role: "tool", ToolCallID: "gemini-call-0", ToolName: "get_database_statistics",
			Content: `{"diabetes_rate_pct":13.9}`},
	}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("ChatWithTools failed: %v", err)
	}
	if result.Content != "The rate is 13.9%." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.StopReason != "end" {
		t.Errorf("StopReason = %q, want end", result.StopReason)
	}

	if len(captured.Contents) != 3 {
		t.Fatalf("len(Contents) = %d, want 3", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" {
		t.Errorf("Contents[1].Role = %q, want model", captured.Contents[1].Role)
	}
	if captured.Contents[1].Parts[0].FunctionCall == nil {
		t.Error("assistant tool call should become a functionCall part")
	}
	fr := captured.Contents[2].Parts[0].FunctionResponse
	if fr == nil {
		t.Fatal("tool message should become a functionResponse part")
	}
	if fr.Name != "get_database_statistics" {
		t.Errorf("FunctionResponse.Name = %q", fr.Name)
	}
	if fr.Response["diabetes_rate_pct"] != 13.9 {
		t.Errorf("FunctionResponse.Response = %v", fr.Response)
	}
	if len(captured.Tools) != 0 {
		t.Errorf("len(Tools) = %d, want 0 when tools is nil", len(captured.Tools))
	}
}

func TestGeminiClient_ChatWithTools_NonJSONToolResultWrapped(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		resp := `{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("test-key", "gemini-test", server.URL)

	messages := []ChatMessage{
		{Role: "tool", ToolCallID: "c1", ToolName: "create_support_ticket", Content: "plain text result"},
	}

	if _, err := client.ChatWithTools(context.Background(), messages, GenerationParams{}, nil); err != nil {
		t.Fatalf("ChatWithTools failed: %v", err)
	}

	fr := captured.Contents[0].Parts[0].FunctionResponse
	if fr == nil {
		t.Fatal("expected functionResponse part")
	}
	if fr.Response["result"] != "plain text result" {
		t.Errorf("non-JSON result should be wrapped, got %v", fr.Response)
	}
}

func TestGeminiClient_ChatWithTools_APIErrorIsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("test-key", "gemini-test", server.URL)

	_, err := client.ChatWithTools(context.Background(),
		[]ChatMessage{{Role: "user", Content: "Hi"}}, GenerationParams{}, nil)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Errorf("error should be *BackendError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "gemini:") {
		t.Errorf("error should include 'gemini:' prefix, got: %s", err.Error())
	}
}

func TestGeminiClient_ChatWithTools_TemperatureInGenerationConfig(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		resp := `{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	defer server.Close()

	client := NewGeminiClientWithConfig("test-key", "gemini-test", server.URL)

	temp := float32(0.1)
	params := GenerationParams{Temperature: &temp}
	if _, err := client.ChatWithTools(context.Background(),
		[]ChatMessage{{Role: "user", Content: "Hi"}}, params, nil); err != nil {
		t.Fatalf("ChatWithTools failed: %v", err)
	}

	if captured.GenerationConfig == nil || captured.GenerationConfig.Temperature == nil {
		t.Fatal("expected temperature in generationConfig")
	}
	if *captured.GenerationConfig.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", *captured.GenerationConfig.Temperature)
	}
}
