// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools declares the closed set of capabilities the assistant may
// invoke and dispatches model tool calls against them. The set is a tagged
// enum, not an open registry: a capability exists only if it has a case in
// the dispatch switch, so nothing outside this package can grow the surface
// the model is allowed to reach.
package tools

import (
	"github.com/AleutianAI/insights/services/llm"
)

// =============================================================================
// Capability Enum
// =============================================================================

// Capability identifies one of the fixed operations exposed to the model.
type Capability int

const (
	// CapabilityExecuteQuery runs a validated read-only SQL query.
	CapabilityExecuteQuery Capability = iota

	// CapabilityDatabaseStatistics returns the fixed aggregate overview.
	CapabilityDatabaseStatistics

	// CapabilityCreateTicket files a support ticket for human follow-up.
	CapabilityCreateTicket
)

// Wire names as presented to the model backend.
const (
	nameExecuteQuery       = "execute_sql_query"
	nameDatabaseStatistics = "get_database_statistics"
	nameCreateTicket       = "create_support_ticket"
)

// Name returns the wire name of the capability.
func (c Capability) Name() string {
	switch c {
	case CapabilityExecuteQuery:
		return nameExecuteQuery
	case CapabilityDatabaseStatistics:
		return nameDatabaseStatistics
	case CapabilityCreateTicket:
		return nameCreateTicket
	}
	return "unknown"
}

// CapabilityForName resolves a wire name back to its capability. The second
// return is false for any name outside the closed set.
func CapabilityForName(name string) (Capability, bool) {
	switch name {
	case nameExecuteQuery:
		return CapabilityExecuteQuery, true
	case nameDatabaseStatistics:
		return CapabilityDatabaseStatistics, true
	case nameCreateTicket:
		return CapabilityCreateTicket, true
	}
	return 0, false
}

// =============================================================================
// Tool Declarations
// =============================================================================

// ParamDef describes one declared parameter of a capability.
type ParamDef struct {
	Type        string
	Description string
	Required    bool
}

// Definition is the declarative schema for one capability, used both to
// advertise the tool to the model and to validate arguments on dispatch.
type Definition struct {
	Capability  Capability
	Description string
	Parameters  map[string]ParamDef
}

// Definitions returns the full closed capability set in a stable order.
func Definitions() []Definition {
	return []Definition{
		{
			Capability:  CapabilityExecuteQuery,
			Description: "Run a database query to get specific health data. Use this when you need detailed information.",
			Parameters: map[string]ParamDef{
				"sql_query": {
					Type:        "string",
					Description: "A SELECT query to run on the database",
					Required:    true,
				},
			},
		},
		{
			Capability:  CapabilityDatabaseStatistics,
			Description: "Get a quick overview of the database - total patients, diabetes rates, average BMI, etc.",
			Parameters:  map[string]ParamDef{},
		},
		{
			Capability:  CapabilityCreateTicket,
			Description: "Create a support ticket when you can't help or the user needs human assistance",
			Parameters: map[string]ParamDef{
				"issue_description": {
					Type:        "string",
					Description: "What's the problem or what help is needed",
					Required:    true,
				},
				"user_question": {
					Type:        "string",
					Description: "What the user originally asked",
				},
			},
		},
	}
}

// Declarations converts the capability set to the generic tool format sent to
// the model backend.
//
// Description:
//
//	Maps Definition to llm.ToolDef, preserving parameter types, descriptions,
//	and required fields.
//
// Outputs:
//   - []llm.ToolDef: Tools in generic LLM format.
//
// Thread Safety: This function is safe for concurrent use.
func Declarations() []llm.ToolDef {
	defs := Definitions()
	result := make([]llm.ToolDef, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]llm.ToolParamDef)
		var required []string

		for paramName, paramDef := range def.Parameters {
			properties[paramName] = llm.ToolParamDef{
				Type:        paramDef.Type,
				Description: paramDef.Description,
			}
			if paramDef.Required {
				required = append(required, paramName)
			}
		}

		result = append(result, llm.ToolDef{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Capability.Name(),
				Description: def.Description,
				Parameters: llm.ToolParameters{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return result
}
