// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the insights service configuration and the embedded
// domain semantics that shape the assistant's system prompt.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Service Configuration
// =============================================================================

// BackendConfig selects and tunes the chat backend.
type BackendConfig struct {
	// Provider selects the backend family. Empty means "openai".
	Provider string `yaml:"provider" validate:"omitempty,oneof=openai anthropic gemini"`

	// BaseURL points at any OpenAI-compatible endpoint (OpenAI, Ollama,
	// vLLM). Empty means the client default.
	BaseURL string `yaml:"base_url"`

	// Model overrides the OPENAI_MODEL environment variable when set.
	Model string `yaml:"model"`

	// Temperature applied to every chat call.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// ServiceConfig is the top-level configuration for the insights service.
//
// # Thread Safety
//
// Immutable after Load; safe for concurrent reads.
type ServiceConfig struct {
	// DatabasePath is the SQLite file holding the survey data. Required.
	DatabasePath string `yaml:"database_path" validate:"required"`

	// TicketDir is the badger directory for the support-ticket ledger.
	// Empty selects an in-memory ledger (tickets lost on restart).
	TicketDir string `yaml:"ticket_dir"`

	// SemanticsPath optionally overrides the embedded domain semantics.
	SemanticsPath string `yaml:"semantics_path"`

	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// TurnTimeout bounds a full ask turn (both backend calls plus all tool
	// dispatches).
	TurnTimeout time.Duration `yaml:"turn_timeout" validate:"min=1s,max=10m"`

	// AskRatePerSecond throttles the ask endpoint. Zero disables limiting.
	AskRatePerSecond float64 `yaml:"ask_rate_per_second" validate:"gte=0"`

	Backend BackendConfig `yaml:"backend"`
}

// Default returns the configuration used when no config file is given.
func Default() ServiceConfig {
	return ServiceConfig{
		DatabasePath:     "health_data.db",
		ListenAddr:       ":8085",
		TurnTimeout:      2 * time.Minute,
		AskRatePerSecond: 5,
		Backend: BackendConfig{
			Temperature: 0.1,
		},
	}
}

// Load reads a YAML config file, layers it over Default, and validates the
// result.
//
// # Inputs
//
//   - path: Config file path. Empty returns the validated defaults.
//
// # Outputs
//
//   - ServiceConfig: The merged configuration.
//   - error: Non-nil if the file cannot be read, parsed, or validated.
func Load(path string) (ServiceConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate applies the struct validation tags.
func (c ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
