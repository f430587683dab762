// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insights exposes the health-data assistant over HTTP: ask turns,
// schema and statistics inspection, and the support-ticket ledger.
package insights

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/insights/services/insights/agent"
	"github.com/AleutianAI/insights/services/insights/config"
	"github.com/AleutianAI/insights/services/insights/store"
	"github.com/AleutianAI/insights/services/insights/ticket"
	"github.com/AleutianAI/insights/services/insights/tools"
	"github.com/AleutianAI/insights/services/llm"
)

// Service owns the long-lived components of the insights backend: the data
// store, the ticket ledger, the capability registry, and the orchestrator.
//
// # Thread Safety
//
// Safe for concurrent use; all components are concurrency-safe.
type Service struct {
	cfg          config.ServiceConfig
	store        *store.Store
	ledger       *ticket.Ledger
	orchestrator *agent.Orchestrator

	stopWatcher func()
}

// NewService wires the service from configuration and a chat backend.
//
// Description:
//
//	Opens the ticket ledger (on disk when TicketDir is set, otherwise in
//	memory), loads domain semantics (embedded default or the configured
//	override, with live reload on the override), and builds the
//	orchestrator. The SQLite store is opened lazily per operation, so a
//	missing database surfaces on first use, not here.
//
// Inputs:
//   - cfg: Validated service configuration.
//   - backend: The chat backend. Must not be nil.
//
// Outputs:
//   - *Service: The wired service.
//   - error: Non-nil if the ledger or semantics cannot be initialized.
func NewService(cfg config.ServiceConfig, backend llm.Backend) (*Service, error) {
	var (
		ledger *ticket.Ledger
		err    error
	)
	if cfg.TicketDir != "" {
		ledger, err = ticket.Open(cfg.TicketDir)
	} else {
		slog.Warn("no ticket directory configured, tickets will not survive restarts")
		ledger, err = ticket.NewInMemory()
	}
	if err != nil {
		return nil, fmt.Errorf("insights: opening ticket ledger: %w", err)
	}

	var semantics *config.Semantics
	if cfg.SemanticsPath != "" {
		semantics, err = config.LoadSemanticsFile(cfg.SemanticsPath)
	} else {
		semantics, err = config.LoadSemantics()
	}
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("insights: loading semantics: %w", err)
	}

	st := store.New(cfg.DatabasePath)
	registry := tools.NewRegistry(st, ledger)
	orchestrator := agent.New(backend, st, registry, semantics, cfg.Backend.Temperature, cfg.TurnTimeout)

	svc := &Service{
		cfg:          cfg,
		store:        st,
		ledger:       ledger,
		orchestrator: orchestrator,
	}

	if cfg.SemanticsPath != "" {
		stop, err := config.WatchSemantics(cfg.SemanticsPath, orchestrator.SetSemantics)
		if err != nil {
			slog.Warn("semantics live reload unavailable",
				slog.String("path", cfg.SemanticsPath),
				slog.String("error", err.Error()),
			)
		} else {
			svc.stopWatcher = stop
		}
	}

	return svc, nil
}

// Ask runs one user turn through the orchestrator.
func (s *Service) Ask(ctx context.Context, question string) agent.TurnResult {
	return s.orchestrator.Ask(ctx, question)
}

// Schema returns the live schema description.
func (s *Service) Schema(ctx context.Context) (*store.SchemaDescriptor, error) {
	return s.store.Describe(ctx)
}

// Statistics returns the fixed aggregate overview.
func (s *Service) Statistics(ctx context.Context) (*store.Statistics, error) {
	return s.store.Statistics(ctx)
}

// CreateTicket files a support ticket directly, bypassing the model.
func (s *Service) CreateTicket(issue, question string) *ticket.SupportTicket {
	return s.ledger.CreateTicket(issue, question)
}

// Tickets lists all filed tickets.
func (s *Service) Tickets() ([]ticket.SupportTicket, error) {
	return s.ledger.List()
}

// Ready reports whether the store is reachable and introspectable.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.store.Describe(ctx)
	return err
}

// Close releases the ticket ledger and the semantics watcher.
func (s *Service) Close() error {
	if s.stopWatcher != nil {
		s.stopWatcher()
	}
	return s.ledger.Close()
}
