// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs the question-answering turn: it assembles the system
// context from live schema metadata and domain semantics, lets the model
// backend choose capabilities, dispatches them, and forces a final
// natural-language answer. One tool round per turn, so a turn costs at most
// two backend calls plus the dispatched capabilities.
package agent

import (
	"encoding/json"

	"github.com/AleutianAI/insights/services/insights/tools"
	"github.com/AleutianAI/insights/services/llm"
)

// =============================================================================
// Turn State Machine
// =============================================================================

// Phase is the current position of a turn in its state machine.
type Phase string

const (
	// PhaseAwaitingModelDecision: system context and question submitted,
	// waiting for the backend to answer directly or request capabilities.
	PhaseAwaitingModelDecision Phase = "awaiting_model_decision"

	// PhaseDispatchingTools: executing the requested capability batch.
	PhaseDispatchingTools Phase = "dispatching_tools"

	// PhaseAwaitingFinalAnswer: capability outcomes folded in, waiting for
	// the forced text answer (no capabilities offered).
	PhaseAwaitingFinalAnswer Phase = "awaiting_final_answer"

	// PhaseDone: turn completed with an answer.
	PhaseDone Phase = "done"

	// PhaseFailed: introspection or backend failure; the turn carries an
	// apology and no trace.
	PhaseFailed Phase = "failed"
)

// Conversation is the message list threaded through one turn. It is never
// shared between turns, so it needs no locking. Transitions append and return
// rather than mutating shared state.
type Conversation struct {
	Phase    Phase
	Messages []llm.ChatMessage
}

// newConversation starts a turn with the system context and the question.
func newConversation(systemPrompt, question string) Conversation {
	return Conversation{
		Phase: PhaseAwaitingModelDecision,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: question},
		},
	}
}

// withAssistantToolCalls appends the backend's tool-call message and moves
// to dispatch.
func (c Conversation) withAssistantToolCalls(calls []llm.ToolCallResponse) Conversation {
	next := c.clone()
	next.Phase = PhaseDispatchingTools
	next.Messages = append(next.Messages, llm.ChatMessage{
		Role:      "assistant",
		ToolCalls: calls,
	})
	return next
}

// withToolResults appends one tool reply per dispatched capability, in the
// order the backend requested them, and moves to the final-answer phase.
func (c Conversation) withToolResults(results []tools.Result) Conversation {
	next := c.clone()
	next.Phase = PhaseAwaitingFinalAnswer
	for _, r := range results {
		next.Messages = append(next.Messages, llm.ChatMessage{
			Role:       "tool",
			ToolCallID: r.CallID,
			ToolName:   r.Name,
			Content:    r.Payload,
		})
	}
	return next
}

func (c Conversation) clone() Conversation {
	cloned := Conversation{Phase: c.Phase}
	cloned.Messages = append(cloned.Messages, c.Messages...)
	return cloned
}

// =============================================================================
// Turn Output
// =============================================================================

// TraceEntry records one executed capability for the caller: what ran, with
// which arguments, and the payload the model saw.
type TraceEntry struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
	Err       bool            `json:"error,omitempty"`
}

// TurnResult is the full outcome of one user turn: the ordered capability
// trace plus the final answer. Failed turns carry an apology as the answer
// and an empty trace.
type TurnResult struct {
	Answer string       `json:"answer"`
	Trace  []TraceEntry `json:"executed_tools"`
	Phase  Phase        `json:"phase"`
}
