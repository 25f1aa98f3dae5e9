// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/ClassChat/services/proxy"
)

// SetupRoutes registers all gateway routes on the router.
func SetupRoutes(router *gin.Engine, p *proxy.ChatProxy) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", HandleChat(p))
		v1.POST("/chat/stream", HandleChatStream(p))
	}

	// Compatibility surface for pre-v1 clients.
	legacy := router.Group("/legacy")
	{
		legacy.POST("/chat/completions", HandleLegacyChat(proxy.NewLegacyClient(p)))
	}
}
