// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ticket implements support ticket creation with an append-only
// BadgerDB ledger. Tickets are immutable after creation: the package exposes
// no update or delete path.
package ticket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ticketKeyPrefix is prepended to the ticket id to form the ledger key.
// Versioned (v1) to allow future format changes without collision.
const ticketKeyPrefix = "ticket/v1/"

// SupportTicket is an immutable escalation record.
type SupportTicket struct {
	// ID is the time-derived, globally sortable ticket identifier,
	// e.g. "TICKET-20260829-141502-a1b2c3d4".
	ID string `json:"ticket_id"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// Issue describes the problem or the help that is needed.
	Issue string `json:"issue_description"`

	// OriginatingQuestion is what the user originally asked. May be empty.
	OriginatingQuestion string `json:"user_question,omitempty"`
}

// Ledger creates tickets and appends them to a durable, append-only log.
//
// Description:
//
//	Ticket construction is pure and local, so CreateTicket always succeeds
//	from the caller's perspective. Persistence is best-effort: a ledger
//	write failure is logged and the ticket is still returned, matching the
//	core's durability boundary (append-only logging, no stronger guarantee).
//
// Thread Safety: Ledger is safe for concurrent use; BadgerDB serializes
// writes internally.
type Ledger struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) the ticket ledger at dir.
//
// Inputs:
//   - dir: Directory for the BadgerDB files.
//
// Outputs:
//   - *Ledger: The opened ledger.
//   - error: Non-nil if the database cannot be opened.
func Open(dir string) (*Ledger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty; slog covers it
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ticket: opening ledger at %q: %w", dir, err)
	}
	slog.Info("Ticket ledger opened", slog.String("dir", dir))
	return &Ledger{db: db, now: time.Now}, nil
}

// NewInMemory creates a ledger backed by an in-memory badger instance.
// Tickets survive only for the process lifetime. Used when no ledger
// directory is configured and in tests.
func NewInMemory() (*Ledger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ticket: opening in-memory ledger: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// CreateTicket creates and records a new support ticket.
//
// Description:
//
//	Derives the id from the current time at second resolution plus a short
//	random suffix, so two tickets created within the same second never
//	collide while ids still sort chronologically. Emits a structured log of
//	the full ticket and appends it to the ledger.
//
// Inputs:
//   - issue: What the problem is or what help is needed. Required by the
//     capability schema; an empty string is still accepted here.
//   - originatingQuestion: What the user originally asked. Optional.
//
// Outputs:
//   - *SupportTicket: The created ticket. Never nil.
//
// Thread Safety: This method is safe for concurrent use.
func (l *Ledger) CreateTicket(issue, originatingQuestion string) *SupportTicket {
	now := l.now()
	t := &SupportTicket{
		ID:                  fmt.Sprintf("TICKET-%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8]),
		CreatedAt:           now,
		Issue:               issue,
		OriginatingQuestion: originatingQuestion,
	}

	slog.Info("New support ticket",
		slog.String("ticket_id", t.ID),
		slog.String("issue", t.Issue),
		slog.String("user_question", t.OriginatingQuestion),
		slog.Time("created", t.CreatedAt),
	)

	if err := l.append(t); err != nil {
		// Best-effort durability: the ticket is still valid and returned.
		slog.Error("Ticket ledger append failed",
			slog.String("ticket_id", t.ID),
			slog.String("error", err.Error()),
		)
	}

	ticketsCreatedTotal.Inc()
	return t
}

// append writes the ticket to the ledger.
func (l *Ledger) append(t *SupportTicket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("ticket: marshaling %s: %w", t.ID, err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ticketKeyPrefix+t.ID), raw)
	})
}

// List returns all recorded tickets in id (chronological) order.
//
// Description:
//
//	Read-only scan over the ledger prefix.
//
// Outputs:
//   - []SupportTicket: The recorded tickets.
//   - error: Non-nil if the scan fails.
func (l *Ledger) List() ([]SupportTicket, error) {
	tickets := []SupportTicket{}

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ticketKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(raw []byte) error {
				var t SupportTicket
				if err := json.Unmarshal(raw, &t); err != nil {
					return fmt.Errorf("ticket: decoding %s: %w", it.Item().Key(), err)
				}
				tickets = append(tickets, t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}
