// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/insights/services/insights/safety"
	"github.com/AleutianAI/insights/services/insights/store"
	"github.com/AleutianAI/insights/services/insights/ticket"
	"github.com/AleutianAI/insights/services/llm"
)

var dispatchTracer = otel.Tracer("insights.tools")

// =============================================================================
// Dispatch Types
// =============================================================================

// Result is the outcome of one capability dispatch. Payload is the JSON
// object handed back to the model as the tool message body. Every dispatch
// produces a Result; failures inside a capability are encoded in the payload,
// never raised as faults.
type Result struct {
	// CallID echoes the model's tool call ID so the reply can be matched.
	CallID string

	// Name is the wire name the model invoked.
	Name string

	// Payload is the serialized JSON outcome.
	Payload string

	// Err is true when the payload reports a failure (rejected query,
	// store error, bad arguments, unknown tool).
	Err bool
}

// Registry binds the capability set to the concrete stores it operates on.
//
// # Thread Safety
//
// Safe for concurrent use; dispatches share no mutable state.
type Registry struct {
	store  *store.Store
	ledger *ticket.Ledger
}

// NewRegistry creates a Registry over the given data store and ticket ledger.
// Both must be non-nil.
func NewRegistry(st *store.Store, ledger *ticket.Ledger) *Registry {
	return &Registry{store: st, ledger: ledger}
}

// =============================================================================
// Dispatch
// =============================================================================

// Dispatch executes one model tool call and returns its outcome.
//
// Description:
//
//	Resolves the call's wire name against the closed capability set and runs
//	the matching operation. An unrecognized name, unparseable arguments, or a
//	missing required argument all degrade to an error payload the model can
//	read and recover from; Dispatch itself never returns an error.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - call: The model's tool call (ID, name, raw JSON arguments).
//
// Outputs:
//   - Result: Outcome with the JSON payload for the tool reply message.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCallResponse) Result {
	ctx, span := dispatchTracer.Start(ctx, "tools.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	capability, ok := CapabilityForName(call.Name)
	if !ok {
		slog.Warn("tool dispatch for unknown capability",
			slog.String("tool", call.Name),
		)
		dispatchTotal.WithLabelValues(call.Name, "unknown").Inc()
		return errorResult(call, map[string]any{
			"error": fmt.Sprintf("Unknown tool: %s", call.Name),
		})
	}

	args, err := parseArguments(call)
	if err != nil {
		slog.Warn("tool dispatch with malformed arguments",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		dispatchTotal.WithLabelValues(call.Name, "bad_arguments").Inc()
		return errorResult(call, map[string]any{
			"error": fmt.Sprintf("Invalid arguments: %s", err.Error()),
		})
	}

	var payload map[string]any
	switch capability {
	case CapabilityExecuteQuery:
		payload = r.executeQuery(ctx, args)
	case CapabilityDatabaseStatistics:
		payload = r.databaseStatistics(ctx)
	case CapabilityCreateTicket:
		payload = r.createTicket(args)
	}

	_, isErr := payload["error"]
	outcome := "ok"
	if isErr {
		outcome = "error"
	}
	dispatchTotal.WithLabelValues(call.Name, outcome).Inc()

	return Result{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: marshalPayload(payload),
		Err:     isErr,
	}
}

// executeQuery runs the model's SQL through the safety-gated executor.
func (r *Registry) executeQuery(ctx context.Context, args map[string]any) map[string]any {
	query, ok := args["sql_query"].(string)
	if !ok || query == "" {
		return map[string]any{
			"error": "Missing required argument: sql_query",
		}
	}

	result, err := r.store.Execute(ctx, query)
	if err != nil {
		if rejection, ok := safety.AsRejection(err); ok {
			return map[string]any{
				"error":   rejection.Error(),
				"blocked": true,
			}
		}
		return map[string]any{
			"error":   err.Error(),
			"success": false,
		}
	}

	return map[string]any{
		"success": true,
		"rows":    result.Rows,
		"data":    result.Data,
	}
}

// databaseStatistics returns the fixed aggregate overview as a flat object.
func (r *Registry) databaseStatistics(ctx context.Context) map[string]any {
	stats, err := r.store.Statistics(ctx)
	if err != nil {
		return map[string]any{
			"error":   err.Error(),
			"success": false,
		}
	}

	// Round-trip through JSON to reuse the struct's field names.
	raw, err := json.Marshal(stats)
	if err != nil {
		return map[string]any{
			"error":   err.Error(),
			"success": false,
		}
	}
	flat := make(map[string]any)
	if err := json.Unmarshal(raw, &flat); err != nil {
		return map[string]any{
			"error":   err.Error(),
			"success": false,
		}
	}
	return flat
}

// createTicket files a support ticket. Ticket creation always succeeds once
// the required argument is present.
func (r *Registry) createTicket(args map[string]any) map[string]any {
	issue, ok := args["issue_description"].(string)
	if !ok || issue == "" {
		return map[string]any{
			"error": "Missing required argument: issue_description",
		}
	}
	question, _ := args["user_question"].(string)

	created := r.ledger.CreateTicket(issue, question)
	return map[string]any{
		"ticket_id": created.ID,
		"status":    "created",
		"message":   "Your support ticket has been created and logged for review.",
	}
}

// parseArguments decodes the call's JSON arguments into a generic map.
// Empty arguments decode to an empty map.
func parseArguments(call llm.ToolCallResponse) (map[string]any, error) {
	raw := call.ArgumentsString()
	args := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parsing tool arguments: %w", err)
	}
	return args, nil
}

func errorResult(call llm.ToolCallResponse, payload map[string]any) Result {
	return Result{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: marshalPayload(payload),
		Err:     true,
	}
}

func marshalPayload(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		// map[string]any over JSON-derived values cannot fail to marshal;
		// keep a readable fallback anyway.
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(raw)
}
