// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway exposes the chat pipeline over HTTP: a blocking chat
// endpoint, an SSE streaming endpoint, the legacy compatibility endpoint,
// plus health and metrics.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ClassChat/services/gateway/observability"
	"github.com/AleutianAI/ClassChat/services/proxy"
)

var gatewayTracer = otel.Tracer("classchat.gateway.handlers")

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorStatus maps a pipeline error onto an HTTP status for JSON replies.
func errorStatus(pe *proxy.Error) int {
	if pe.Status >= 400 {
		return pe.Status
	}
	if pe.Code == proxy.CodeTransient {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func metricCode(pe *proxy.Error) string {
	return strings.ToLower(string(pe.Code))
}

// respondError writes the JSON error reply and records the error metric.
func respondError(c *gin.Context, endpoint observability.Endpoint, err error) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, false)
	}
	if pe := proxy.AsError(err); pe != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, metricCode(pe))
		}
		c.JSON(errorStatus(pe), gin.H{"error": pe.Message, "code": pe.Code})
		return
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, "internal")
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// HandleChat serves the blocking chat completion endpoint.
func HandleChat(p *proxy.ChatProxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req proxy.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the chat request", "error", err)
			respondError(c, observability.EndpointChat,
				&proxy.Error{Code: proxy.CodeClientError, Status: http.StatusBadRequest, Message: "invalid request body"})
			return
		}

		resp, err := p.ChatCompletion(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, observability.EndpointChat, err)
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointChat, true)
			m.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, req.Model)
			m.RecordWarnings(observability.EndpointChat, len(resp.Warnings))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// keepAliveInterval reads CLASSCHAT_SSE_KEEPALIVE_MS with a 15s default.
func keepAliveInterval() time.Duration {
	if v := os.Getenv("CLASSCHAT_SSE_KEEPALIVE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		slog.Warn("Invalid CLASSCHAT_SSE_KEEPALIVE_MS, using the default", "value", v)
	}
	return 15 * time.Second
}

// HandleChatStream serves the streaming chat endpoint over SSE.
//
// The client receives warning events (masking notices) before the first
// token, then token events, then a single done event. Comment keep-alives
// go out whenever the upstream is quiet for the keep-alive interval, so
// intermediaries do not drop the connection. A client disconnect ends the
// upstream stream cooperatively; no done event is sent.
func HandleChatStream(p *proxy.ChatProxy) gin.HandlerFunc {
	keepAlive := keepAliveInterval()
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()
		endpoint := observability.EndpointChatStream

		var req proxy.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the stream request", "error", err)
			respondError(c, endpoint,
				&proxy.Error{Code: proxy.CodeClientError, Status: http.StatusBadRequest, Message: "invalid request body"})
			return
		}

		clientGone := c.Request.Context().Done()
		cancelled := func() bool {
			select {
			case <-clientGone:
				return true
			default:
				return false
			}
		}

		stream, err := p.ChatCompletionStream(ctx, &req, cancelled)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, endpoint, err)
			return
		}
		defer stream.Close()

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("Streaming unsupported by the response writer", "error", err)
			respondError(c, endpoint, err)
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(endpoint)
			defer m.StreamEnded(endpoint)
		}

		start := time.Now()
		firstToken := true
		success := false

		// Reads run in their own goroutine so the select below can fire
		// keep-alives while Next blocks on a quiet upstream.
		type streamResult struct {
			chunk proxy.StreamChunk
			err   error
		}
		streamCtx, stopReading := context.WithCancel(ctx)
		defer stopReading()
		results := make(chan streamResult, 1)
		go func() {
			defer close(results)
			for {
				chunk, err := stream.Next()
				select {
				case results <- streamResult{chunk: chunk, err: err}:
				case <-streamCtx.Done():
					return
				}
				if err != nil || chunk.Done {
					return
				}
			}
		}()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			var r streamResult
			var ok bool
			select {
			case r, ok = <-results:
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					slog.Debug("Client stopped reading the stream", "error", err)
				}
				continue
			}
			if !ok {
				break
			}

			chunk, nextErr := r.chunk, r.err
			if errors.Is(nextErr, io.EOF) {
				break
			}
			if nextErr != nil {
				span.RecordError(nextErr)
				writer.WriteError(displayMessage(nextErr))
				if m := observability.DefaultMetrics; m != nil {
					m.RecordError(endpoint, "transient_error")
				}
				break
			}

			if len(chunk.Warnings) > 0 {
				if err := writer.WriteWarnings(chunk.Warnings); err != nil {
					break
				}
				if m := observability.DefaultMetrics; m != nil {
					m.RecordWarnings(endpoint, len(chunk.Warnings))
				}
			}
			if chunk.Done {
				writer.WriteDone()
				success = true
				break
			}
			if chunk.Content != "" {
				if firstToken {
					firstToken = false
					if m := observability.DefaultMetrics; m != nil {
						m.RecordTimeToFirstToken(endpoint, time.Since(start).Seconds())
					}
				}
				if err := writer.WriteToken(chunk.Content); err != nil {
					slog.Debug("Client stopped reading the stream", "error", err)
					break
				}
			}
		}

		if cancelled() {
			slog.Info("Client disconnected during streaming")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
			}
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordStreamDuration(endpoint, time.Since(start).Seconds(), success)
			m.RecordRequest(endpoint, success)
		}
	}
}

// HandleLegacyChat serves the old completion endpoint through the modern
// pipeline.
func HandleLegacyChat(lc *proxy.LegacyClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := gatewayTracer.Start(c.Request.Context(), "HandleLegacyChat")
		defer span.End()

		var req proxy.LegacyRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the legacy request", "error", err)
			respondError(c, observability.EndpointLegacy,
				&proxy.Error{Code: proxy.CodeClientError, Status: http.StatusBadRequest, Message: "invalid request body"})
			return
		}

		resp, err := lc.Complete(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var le *proxy.LegacyError
			if errors.As(err, &le) {
				if m := observability.DefaultMetrics; m != nil {
					m.RecordRequest(observability.EndpointLegacy, false)
					m.RecordError(observability.EndpointLegacy, strings.ToLower(string(le.Code)))
				}
				status := le.Status
				if status < 400 {
					status = http.StatusInternalServerError
				}
				c.JSON(status, gin.H{"error": le.Message, "code": le.Code})
				return
			}
			respondError(c, observability.EndpointLegacy, err)
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointLegacy, true)
			m.RecordWarnings(observability.EndpointLegacy, len(resp.Warnings))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// displayMessage keeps internal detail out of client-facing error events.
func displayMessage(err error) string {
	if pe := proxy.AsError(err); pe != nil {
		return pe.Message
	}
	return "stream failed"
}
