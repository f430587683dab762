// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model backend contract and clients. The backend
// is a black box to the rest of the system: given a conversation and a set of
// tool declarations it returns either a direct answer or a batch of requested
// tool invocations.
package llm

import (
	"context"
	"fmt"
)

// Backend is the model backend contract consumed by the orchestration loop.
//
// Description:
//
//	A single round-trip to a generative model. Passing a nil/empty tools
//	slice disables tool calling and forces a terminal natural-language
//	answer, which is how the loop closes out a turn after dispatching.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	// ChatWithTools sends the conversation with optional tool declarations.
	//
	// Inputs:
	//   - ctx: Context for cancellation and the turn-level timeout.
	//   - messages: Conversation history with tool metadata.
	//   - params: Generation parameters.
	//   - tools: Tool declarations, or nil to force a text answer.
	//
	// Outputs:
	//   - *ChatWithToolsResult: Content and/or requested tool calls.
	//   - error: Non-nil on any transport or API failure.
	ChatWithTools(ctx context.Context, messages []ChatMessage,
		params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}

// GenerationParams holds backend-agnostic generation parameters.
//
// Nil pointer fields are omitted from the request so the backend's defaults
// apply.
type GenerationParams struct {
	// Temperature controls randomness (0.0-2.0).
	Temperature *float32

	// MaxTokens limits the response length.
	MaxTokens *int

	// TopP is the nucleus sampling parameter.
	TopP *float32

	// Stop lists stop sequences.
	Stop []string

	// ModelOverride selects a model for this request instead of the
	// client's configured default.
	ModelOverride string
}

// BackendError reports that the model backend was unreachable, timed out, or
// returned a malformed response. Fatal to the current turn.
type BackendError struct {
	// Cause is the underlying client failure.
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("llm: backend call failed: %v", e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}
