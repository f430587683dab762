// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/insights/services/insights/agent"
	"github.com/AleutianAI/insights/services/insights/store"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AskRequest is the body for POST /v1/insights/ask.
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// AskResponse wraps a turn result with its request ID.
type AskResponse struct {
	RequestID string             `json:"request_id"`
	Answer    string             `json:"answer"`
	Trace     []agent.TraceEntry `json:"executed_tools"`
	Failed    bool               `json:"failed"`
}

// SchemaResponse carries both the structured descriptor and the text
// rendering handed to the model.
type SchemaResponse struct {
	Schema   *store.SchemaDescriptor `json:"schema"`
	Rendered string                  `json:"rendered"`
}

// TicketRequest is the body for POST /v1/insights/tickets.
type TicketRequest struct {
	IssueDescription string `json:"issue_description" binding:"required"`
	UserQuestion     string `json:"user_question"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds HTTP handlers for the insights endpoints.
type Handlers struct {
	service *Service
}

// NewHandlers creates handlers backed by the given service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the X-Request-ID header, minting one if the
// caller did not send it.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleAsk handles POST /v1/insights/ask.
//
// Description:
//
//	Runs one full assistant turn for the posted question and returns the
//	answer together with the ordered tool trace. Failed turns still return
//	200 with failed=true and an apology answer; the turn outcome is data,
//	not a transport error.
//
// Response:
//
//	200 OK: AskResponse
//	400 Bad Request: Missing or empty question
//
// Thread Safety: Safe for concurrent use.
func (h *Handlers) HandleAsk(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAsk")

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question must not be blank",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	result := h.service.Ask(c.Request.Context(), req.Question)
	logger.Info("turn finished",
		slog.String("phase", string(result.Phase)),
		slog.Int("tools_executed", len(result.Trace)),
	)

	c.JSON(http.StatusOK, AskResponse{
		RequestID: requestID,
		Answer:    result.Answer,
		Trace:     result.Trace,
		Failed:    result.Phase == agent.PhaseFailed,
	})
}

// HandleSchema handles GET /v1/insights/schema.
//
// Response:
//
//	200 OK: SchemaResponse
//	503 Service Unavailable: Store unreachable
func (h *Handlers) HandleSchema(c *gin.Context) {
	schema, err := h.service.Schema(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}
	c.JSON(http.StatusOK, SchemaResponse{
		Schema:   schema,
		Rendered: schema.RenderText(),
	})
}

// HandleStatistics handles GET /v1/insights/statistics.
//
// Response:
//
//	200 OK: store.Statistics
//	503 Service Unavailable: Store unreachable or aggregate query failed
func (h *Handlers) HandleStatistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleCreateTicket handles POST /v1/insights/tickets.
//
// Response:
//
//	201 Created: ticket.SupportTicket
//	400 Bad Request: Missing issue_description
func (h *Handlers) HandleCreateTicket(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "issue_description is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	created := h.service.CreateTicket(req.IssueDescription, req.UserQuestion)
	c.JSON(http.StatusCreated, created)
}

// HandleListTickets handles GET /v1/insights/tickets.
//
// Response:
//
//	200 OK: {"tickets": [...], "count": n}
//	500 Internal Server Error: Ledger scan failed
func (h *Handlers) HandleListTickets(c *gin.Context) {
	tickets, err := h.service.Tickets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LEDGER_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// HandleHealth handles GET /v1/insights/health. Liveness only.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/insights/ready. Verifies the store answers
// schema introspection.
func (h *Handlers) HandleReady(c *gin.Context) {
	if err := h.service.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
