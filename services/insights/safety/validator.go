// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety implements the read-only admission policy for candidate SQL
// queries. It is the single enforcement point between model-proposed queries
// and the store: every query must pass Validate before execution, and the
// executor re-validates internally as defense in depth.
package safety

import (
	"errors"
	"fmt"
	"strings"
)

// deniedVerbs is the fixed denylist of mutating SQL verbs.
//
// The check is a deliberate substring match on the upper-cased query: a column
// or string literal containing one of these words also triggers rejection
// (e.g. a column named "update_log" trips UPDATE). False positives are traded
// for the guarantee that no mutating statement can slip through in a comment,
// a compound statement, or a dialect quirk.
var deniedVerbs = []string{"DELETE", "DROP", "TRUNCATE", "ALTER", "UPDATE", "INSERT"}

// RuleKind identifies which admission rule rejected a query.
type RuleKind string

const (
	// RuleDeniedVerb means the query contained a denylisted mutating verb.
	RuleDeniedVerb RuleKind = "denied_verb"

	// RuleNotSelect means the query did not start with SELECT.
	RuleNotSelect RuleKind = "not_select"
)

// RejectionReason explains why a candidate query was not admitted.
//
// Description:
//
//	Implements error so it flows through normal error returns, and carries
//	enough structure (rule kind plus the offending verb) for callers to
//	surface the reason to the model backend and to logs.
//
// Thread Safety: RejectionReason is immutable and safe for concurrent use.
type RejectionReason struct {
	// Rule identifies the admission rule that failed.
	Rule RuleKind

	// Verb is the denylisted verb that matched. Empty for RuleNotSelect.
	Verb string
}

// Error implements the error interface with a message suitable for returning
// to the model backend as a tool outcome.
func (r *RejectionReason) Error() string {
	switch r.Rule {
	case RuleDeniedVerb:
		return fmt.Sprintf("Blocked: %s not allowed", r.Verb)
	case RuleNotSelect:
		return "Only SELECT allowed"
	default:
		return "query rejected"
	}
}

// Validate decides read-only admissibility of a candidate query.
//
// Description:
//
//	Normalizes the candidate by trimming and upper-casing, then applies two
//	rules in order: (1) reject if any denylisted verb appears anywhere as a
//	substring, (2) reject if the normalized text does not start with SELECT.
//	The verb check runs first so "UPDATE t SET x=1" is reported as an UPDATE
//	rejection rather than a missing-SELECT rejection.
//
// Inputs:
//   - candidate: The untrusted query string proposed by the model backend.
//
// Outputs:
//   - error: Nil if the query is admitted. Otherwise a *RejectionReason
//     naming the rule that failed. No side effects either way.
//
// Thread Safety: This function is safe for concurrent use.
func Validate(candidate string) error {
	normalized := strings.ToUpper(strings.TrimSpace(candidate))

	for _, verb := range deniedVerbs {
		if strings.Contains(normalized, verb) {
			return &RejectionReason{Rule: RuleDeniedVerb, Verb: verb}
		}
	}

	if !strings.HasPrefix(normalized, "SELECT") {
		return &RejectionReason{Rule: RuleNotSelect}
	}

	return nil
}

// AsRejection extracts a *RejectionReason from err, if present.
//
// Outputs:
//   - *RejectionReason: The rejection, or nil if err is not a rejection.
//   - bool: True if err (or anything it wraps) is a RejectionReason.
func AsRejection(err error) (*RejectionReason, bool) {
	var r *RejectionReason
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
