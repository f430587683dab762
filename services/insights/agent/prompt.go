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
	"fmt"

	"github.com/AleutianAI/insights/services/insights/config"
)

// buildSystemPrompt composes the per-turn system context: the assistant's
// role, the live schema rendering, and the domain semantics. The schema text
// is regenerated every turn from live metadata so schema changes are never
// answered from a stale description.
func buildSystemPrompt(schemaText string, semantics *config.Semantics) string {
	return fmt.Sprintf(
		"You're a friendly health data assistant helping people explore %s.\n\n%s\n\n%s",
		semantics.Dataset.Name,
		schemaText,
		semantics.Render(),
	)
}
