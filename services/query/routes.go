// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the query-understanding routes with the router.
//
// Description:
//
//	Registers all /v1/query/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/query/resolve - Run the understanding pipeline on a query
//	GET  /v1/query/health - Health check
//	GET  /v1/query/ready - Readiness check with the live lexicon hash
//
// Example:
//
//	service := query.NewService(query.DefaultServiceConfig(), pipe, sessions, logger)
//	handlers := query.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	query.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	q := rg.Group("/query")
	{
		q.POST("/resolve", handlers.HandleResolve)

		q.GET("/health", handlers.HandleHealth)
		q.GET("/ready", handlers.HandleReady)
	}
}
