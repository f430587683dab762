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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all insights routes with the router.
//
// Description:
//
//	Registers all /v1/insights/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	POST /v1/insights/ask - Run one assistant turn
//	GET  /v1/insights/schema - Live schema description
//	GET  /v1/insights/statistics - Fixed aggregate overview
//	POST /v1/insights/tickets - File a support ticket
//	GET  /v1/insights/tickets - List filed tickets
//	GET  /v1/insights/health - Health check
//	GET  /v1/insights/ready - Readiness check
//
// Example:
//
//	service, _ := insights.NewService(cfg, backend)
//	handlers := insights.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	insights.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	insights := rg.Group("/insights")
	{
		insights.POST("/ask", handlers.HandleAsk)

		insights.GET("/schema", handlers.HandleSchema)
		insights.GET("/statistics", handlers.HandleStatistics)

		insights.POST("/tickets", handlers.HandleCreateTicket)
		insights.GET("/tickets", handlers.HandleListTickets)

		insights.GET("/health", handlers.HandleHealth)
		insights.GET("/ready", handlers.HandleReady)
	}
}
