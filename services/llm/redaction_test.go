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
	"strings"
	"testing"
)

func TestSafeLogString_APIKey(t *testing.T) {
	input := "failed: sk-abcdefghijklmnopqrstuvwxyz1234 returned 401"
	result := SafeLogString(input)

	if strings.Contains(result, "sk-abcdefghijklmnopqrst") {
		t.Errorf("API key not redacted: %s", result)
	}
	if !strings.Contains(result, "[REDACTED:api_key]") {
		t.Errorf("expected [REDACTED:api_key] in result: %s", result)
	}
	if !strings.Contains(result, "failed:") || !strings.Contains(result, "returned 401") {
		t.Error("surrounding text was modified")
	}
}

func TestSafeLogString_BearerToken(t *testing.T) {
	input := `request header Authorization: Bearer abc123def456ghi789 rejected`
	result := SafeLogString(input)

	if strings.Contains(result, "abc123def456ghi789") {
		t.Errorf("bearer token not redacted: %s", result)
	}
	if !strings.Contains(result, "[REDACTED:bearer_token]") {
		t.Errorf("expected [REDACTED:bearer_token] in result: %s", result)
	}
}

func TestSafeLogString_QueryParamKey(t *testing.T) {
	input := "GET /v1/models?key=AbCdEf123456.secret failed"
	result := SafeLogString(input)

	if strings.Contains(result, "AbCdEf123456") {
		t.Errorf("query param key not redacted: %s", result)
	}
	if !strings.Contains(result, "key=[REDACTED]") {
		t.Errorf("expected key=[REDACTED] in result: %s", result)
	}
}

func TestSafeLogString_Password(t *testing.T) {
	input := "dsn: host=db password=hunter22 dbname=insights"
	result := SafeLogString(input)

	if strings.Contains(result, "hunter22") {
		t.Errorf("password not redacted: %s", result)
	}
	if !strings.Contains(result, "password=[REDACTED]") {
		t.Errorf("expected password=[REDACTED] in result: %s", result)
	}
}

func TestSafeLogString_NoSecrets(t *testing.T) {
	input := "normal log message with no secrets"
	if result := SafeLogString(input); result != input {
		t.Errorf("clean string was modified: %s", result)
	}
}

func TestSafeLogString_Empty(t *testing.T) {
	if result := SafeLogString(""); result != "" {
		t.Errorf("empty string was modified: %q", result)
	}
}

func TestSafeLogString_ShortKeyNotRedacted(t *testing.T) {
	// Short sk- strings (e.g. test fixtures) must survive for debuggability.
	input := "using sk-test as placeholder"
	if result := SafeLogString(input); result != input {
		t.Errorf("short placeholder was redacted: %s", result)
	}
}
