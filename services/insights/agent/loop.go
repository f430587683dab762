// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/insights/services/insights/config"
	"github.com/AleutianAI/insights/services/insights/store"
	"github.com/AleutianAI/insights/services/insights/tools"
	"github.com/AleutianAI/insights/services/llm"
)

var turnTracer = otel.Tracer("insights.agent")

// apologySchema is returned when schema introspection fails; the turn never
// reaches the backend.
const apologySchema = "Sorry, I couldn't access the database structure right now."

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives one user turn through the phase machine: decision call,
// at most one capability round, forced final answer.
//
// # Thread Safety
//
// Safe for concurrent turns. Each turn builds its own Conversation; the only
// shared mutable state is the semantics pointer, which is swapped atomically.
type Orchestrator struct {
	backend     llm.Backend
	store       *store.Store
	registry    *tools.Registry
	semantics   atomic.Pointer[config.Semantics]
	temperature float32
	turnTimeout time.Duration
}

// New constructs an Orchestrator. All dependencies are explicit so tests can
// substitute a fake backend and a seeded store.
//
// # Inputs
//
//   - backend: The chat backend. Must not be nil.
//   - st: The read-only data store. Must not be nil.
//   - registry: The capability registry. Must not be nil.
//   - semantics: Initial domain semantics. Must not be nil.
//   - temperature: Sampling temperature for both backend calls.
//   - turnTimeout: Upper bound for a full turn. Zero means no timeout.
func New(backend llm.Backend, st *store.Store, registry *tools.Registry, semantics *config.Semantics, temperature float32, turnTimeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		store:       st,
		registry:    registry,
		temperature: temperature,
		turnTimeout: turnTimeout,
	}
	o.semantics.Store(semantics)
	return o
}

// SetSemantics swaps the domain semantics used for subsequent turns. Called
// by the live-reload watcher; in-flight turns keep the version they started
// with.
func (o *Orchestrator) SetSemantics(s *config.Semantics) {
	if s != nil {
		o.semantics.Store(s)
	}
}

// Ask processes one user question end to end.
//
// Description:
//
//	Introspects the live schema, submits the system context and question to
//	the backend with the capability set attached, dispatches any requested
//	capabilities (order-preserving; batch members run concurrently and fail
//	independently), then forces a final text answer with no capabilities
//	offered. Failures that the model cannot recover from (introspection,
//	backend connectivity) end the turn with an apology answer and an empty
//	trace instead of an error.
//
// Inputs:
//   - ctx: Context for cancellation. The turn timeout is layered on top.
//   - question: The user's natural-language question.
//
// Outputs:
//   - TurnResult: Answer, ordered capability trace, and terminal phase.
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) Ask(ctx context.Context, question string) TurnResult {
	ctx, span := turnTracer.Start(ctx, "agent.turn")
	defer span.End()

	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	started := time.Now()
	result := o.runTurn(ctx, question)

	span.SetAttributes(
		attribute.String("turn.phase", string(result.Phase)),
		attribute.Int("turn.tools", len(result.Trace)),
	)
	turnsTotal.WithLabelValues(string(result.Phase)).Inc()
	turnDuration.Observe(time.Since(started).Seconds())

	return result
}

func (o *Orchestrator) runTurn(ctx context.Context, question string) TurnResult {
	slog.Info("processing question", slog.Int("length", len(question)))

	schema, err := o.store.Describe(ctx)
	if err != nil {
		slog.Error("schema introspection failed, aborting turn",
			slog.String("error", err.Error()),
		)
		return TurnResult{Answer: apologySchema, Phase: PhaseFailed}
	}

	conv := newConversation(
		buildSystemPrompt(schema.RenderText(), o.semantics.Load()),
		question,
	)
	params := llm.GenerationParams{Temperature: &o.temperature}

	decision, err := o.backend.ChatWithTools(ctx, conv.Messages, params, tools.Declarations())
	if err != nil {
		slog.Error("backend decision call failed",
			slog.String("error", err.Error()),
		)
		return TurnResult{Answer: apologyBackend(err), Phase: PhaseFailed}
	}

	if len(decision.ToolCalls) == 0 {
		slog.Info("backend answered directly without tools")
		return TurnResult{Answer: decision.Content, Phase: PhaseDone}
	}

	conv = conv.withAssistantToolCalls(decision.ToolCalls)
	results := o.dispatchBatch(ctx, decision.ToolCalls)
	conv = conv.withToolResults(results)

	final, err := o.backend.ChatWithTools(ctx, conv.Messages, params, nil)
	if err != nil {
		slog.Error("backend final-answer call failed",
			slog.String("error", err.Error()),
		)
		return TurnResult{Answer: apologyBackend(err), Phase: PhaseFailed}
	}

	trace := make([]TraceEntry, len(results))
	for i, r := range results {
		trace[i] = TraceEntry{
			Name:      r.Name,
			Arguments: traceJSON(decision.ToolCalls[i].ArgumentsString()),
			Result:    json.RawMessage(r.Payload),
			Err:       r.Err,
		}
	}

	slog.Info("turn complete", slog.Int("tools_executed", len(trace)))
	return TurnResult{Answer: final.Content, Trace: trace, Phase: PhaseDone}
}

// dispatchBatch runs the requested capabilities concurrently and returns
// their outcomes in request order. Batch members are independent; a failing
// member reports its own error payload without cancelling siblings.
func (o *Orchestrator) dispatchBatch(ctx context.Context, calls []llm.ToolCallResponse) []tools.Result {
	results := make([]tools.Result, len(calls))

	g := new(errgroup.Group)
	for i, call := range calls {
		g.Go(func() error {
			slog.Info("dispatching tool",
				slog.String("tool", call.Name),
				slog.String("call_id", call.ID),
			)
			results[i] = o.registry.Dispatch(ctx, call)
			return nil
		})
	}
	// Dispatch encodes failures in payloads, so Wait never returns an error.
	_ = g.Wait()

	return results
}

// traceJSON embeds s in the trace verbatim when it is valid JSON; anything
// else is encoded as a JSON string. Backends can send malformed argument
// blobs, and a raw one inside a json.RawMessage would break encoding of the
// whole response.
func traceJSON(s string) json.RawMessage {
	raw := json.RawMessage(s)
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func apologyBackend(err error) string {
	return fmt.Sprintf("Sorry, I ran into a problem: %s", err.Error())
}
