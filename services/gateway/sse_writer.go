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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Event
// =============================================================================

// streamEvent is the JSON body of one outbound SSE event.
//
// Each event is assigned an Id (UUID v4, for client-side deduplication) and
// a CreatedAt Unix-milliseconds timestamp at write time.
type streamEvent struct {
	Id        string   `json:"id"`
	Type      string   `json:"type"`
	CreatedAt int64    `json:"created_at"`
	Content   string   `json:"content,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Error     string   `json:"error,omitempty"`
}

const (
	eventToken   = "token"
	eventWarning = "warning"
	eventDone    = "done"
	eventError   = "error"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// SSEWriter abstracts the SSE wire format (event: type\ndata: json\n\n)
// away from the streaming handlers. Every write flushes immediately.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; a streaming handler may
// interleave keep-alives and tokens from different goroutines.
//
// # Assumptions
//
//   - Caller has set the SSE headers via SetSSEHeaders before writing.
type SSEWriter interface {
	// WriteToken writes one token event with a fragment of the answer.
	WriteToken(content string) error

	// WriteWarnings writes a warning event carrying the masking notices
	// for this conversation. Sent at most once, before the first token.
	WriteWarnings(warnings []string) error

	// WriteError writes an error event with a client-safe message.
	// The stream should be closed afterwards.
	WriteError(errMsg string) error

	// WriteDone writes the final event of a successful stream.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment line to keep intermediaries
	// (load balancers, reverse proxies) from timing out the connection.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter on top of an http.ResponseWriter.
//
// # Limitations
//
//   - Requires http.Flusher support on the ResponseWriter.
//   - Cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps the given ResponseWriter. Returns an error when the
// writer does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) writeEvent(event streamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteToken(content string) error {
	return w.writeEvent(streamEvent{Type: eventToken, Content: content})
}

func (w *sseWriter) WriteWarnings(warnings []string) error {
	return w.writeEvent(streamEvent{Type: eventWarning, Warnings: warnings})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.writeEvent(streamEvent{Type: eventError, Error: errMsg})
}

func (w *sseWriter) WriteDone() error {
	return w.writeEvent(streamEvent{Type: eventDone})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers for an SSE stream. Must be
// called before any write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
