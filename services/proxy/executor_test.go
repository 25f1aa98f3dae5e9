// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Helpers
// =============================================================================

const completionBody = `{"choices":[{"message":{"role":"assistant","content":"Hi"}}],"usage":{"total_tokens":3}}`

// countingServer wraps an httptest server and counts requests it served.
type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newCountingServer(status int, body string) *countingServer {
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	return cs
}

func fastExecutor(cfg ExecutorConfig) *Executor {
	cfg.Governor = NewRateGovernor(time.Millisecond)
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	return NewExecutor(cfg)
}

func testPayload() *chatCompletionPayload {
	return &chatCompletionPayload{
		Model:    "test-model",
		Messages: []providerMessage{{Role: RoleUser, Content: "hello"}},
	}
}

// =============================================================================
// Executor Tests
// =============================================================================

// TestExecutor_ProxySuccess tests the happy path through the proxy.
//
// # Description
//
// Verifies that a healthy proxy serves the request and the direct endpoint
// is never contacted.
func TestExecutor_ProxySuccess(t *testing.T) {
	t.Parallel()

	proxy := newCountingServer(http.StatusOK, completionBody)
	defer proxy.Close()
	direct := newCountingServer(http.StatusOK, completionBody)
	defer direct.Close()

	e := fastExecutor(ExecutorConfig{
		ProxyURL:  proxy.URL,
		DirectURL: direct.URL,
		APIKey:    "sk-test",
	})

	resp, err := e.Execute(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	resp.Body.Close()

	if proxy.hits.Load() != 1 {
		t.Errorf("proxy hits = %d, want 1", proxy.hits.Load())
	}
	if direct.hits.Load() != 0 {
		t.Errorf("direct hits = %d, want 0", direct.hits.Load())
	}
}

// TestExecutor_FallbackToDirect tests the direct fallback path.
//
// # Description
//
// Verifies that a failing proxy triggers a direct request carrying the
// bearer credential, within the same attempt.
func TestExecutor_FallbackToDirect(t *testing.T) {
	t.Parallel()

	proxy := newCountingServer(http.StatusInternalServerError, `{"error":{"message":"proxy down"}}`)
	defer proxy.Close()

	var gotAuth atomic.Value
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		io.WriteString(w, completionBody)
	}))
	defer direct.Close()

	e := fastExecutor(ExecutorConfig{
		ProxyURL:  proxy.URL,
		DirectURL: direct.URL,
		APIKey:    "sk-test",
	})

	resp, err := e.Execute(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	resp.Body.Close()

	if proxy.hits.Load() != 1 {
		t.Errorf("proxy hits = %d, want 1", proxy.hits.Load())
	}
	if auth, _ := gotAuth.Load().(string); auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer sk-test")
	}
}

// TestExecutor_RetriesRateLimit tests the retry policy for 429 responses.
//
// # Description
//
// Verifies that rate limiting is retried up to the configured limit and
// then surfaces as a transient error with the upstream status.
func TestExecutor_RetriesRateLimit(t *testing.T) {
	t.Parallel()

	direct := newCountingServer(http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
	defer direct.Close()

	e := fastExecutor(ExecutorConfig{
		DirectURL:  direct.URL,
		APIKey:     "sk-test",
		MaxRetries: 2,
	})

	_, err := e.Execute(context.Background(), testPayload())
	pe := AsError(err)
	if pe == nil {
		t.Fatalf("Execute error = %v, want a proxy.Error", err)
	}
	if pe.Code != CodeTransient {
		t.Errorf("Code = %q, want %q", pe.Code, CodeTransient)
	}
	if pe.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", pe.Status)
	}
	if pe.Message != "slow down" {
		t.Errorf("Message = %q, want the upstream message", pe.Message)
	}
	if direct.hits.Load() != 3 {
		t.Errorf("direct hits = %d, want 3 (initial attempt plus two retries)", direct.hits.Load())
	}
}

// TestExecutor_ClientErrorIsTerminal tests that 4xx is not retried.
//
// # Description
//
// Verifies that a 400 response fails immediately with a client error and
// exactly one upstream request.
func TestExecutor_ClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	direct := newCountingServer(http.StatusBadRequest, `{"error":{"message":"bad prompt"}}`)
	defer direct.Close()

	e := fastExecutor(ExecutorConfig{
		DirectURL:  direct.URL,
		APIKey:     "sk-test",
		MaxRetries: 2,
	})

	_, err := e.Execute(context.Background(), testPayload())
	pe := AsError(err)
	if pe == nil {
		t.Fatalf("Execute error = %v, want a proxy.Error", err)
	}
	if pe.Code != CodeClientError || pe.Status != http.StatusBadRequest {
		t.Errorf("got (%q, %d), want (CLIENT_ERROR, 400)", pe.Code, pe.Status)
	}
	if pe.Message != "bad prompt" {
		t.Errorf("Message = %q, want the upstream message", pe.Message)
	}
	if pe.Retryable() {
		t.Error("client error reported as retryable")
	}
	if direct.hits.Load() != 1 {
		t.Errorf("direct hits = %d, want 1", direct.hits.Load())
	}
}

// TestExecutor_NoAPIKey tests the missing-credential path.
//
// # Description
//
// Verifies that a proxy failure without a configured API key fails fatally
// on the first attempt, with no direct request and no retries.
func TestExecutor_NoAPIKey(t *testing.T) {
	t.Parallel()

	proxy := newCountingServer(http.StatusInternalServerError, "upstream exploded")
	defer proxy.Close()
	direct := newCountingServer(http.StatusOK, completionBody)
	defer direct.Close()

	e := fastExecutor(ExecutorConfig{
		ProxyURL:   proxy.URL,
		DirectURL:  direct.URL,
		MaxRetries: 2,
	})

	_, err := e.Execute(context.Background(), testPayload())
	pe := AsError(err)
	if pe == nil {
		t.Fatalf("Execute error = %v, want a proxy.Error", err)
	}
	if pe.Code != CodeNoAPIKey {
		t.Errorf("Code = %q, want %q", pe.Code, CodeNoAPIKey)
	}
	if pe.Retryable() {
		t.Error("NO_API_KEY reported as retryable")
	}
	if proxy.hits.Load() != 1 {
		t.Errorf("proxy hits = %d, want 1", proxy.hits.Load())
	}
	if direct.hits.Load() != 0 {
		t.Errorf("direct hits = %d, want 0", direct.hits.Load())
	}
}

// TestExecutor_CancelledContext tests cancellation during backoff.
//
// # Description
//
// Verifies that cancelling the context aborts the retry loop promptly.
func TestExecutor_CancelledContext(t *testing.T) {
	t.Parallel()

	direct := newCountingServer(http.StatusInternalServerError, "boom")
	defer direct.Close()

	e := fastExecutor(ExecutorConfig{
		DirectURL:  direct.URL,
		APIKey:     "sk-test",
		MaxRetries: 5,
		Backoff:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Execute(ctx, testPayload())
	if err == nil {
		t.Fatal("Execute succeeded, want an error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute blocked for %v after cancellation", elapsed)
	}
}
