package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDirectURL  = "https://api.openai.com/v1/chat/completions"
	defaultMaxRetries = 2
	defaultBackoff    = time.Second
)

// ExecutorConfig configures the request executor. Zero values fall back to
// the package defaults; an empty ProxyURL disables the proxy leg.
type ExecutorConfig struct {
	ProxyURL   string
	DirectURL  string
	APIKey     string
	Governor   *RateGovernor
	HTTPClient *http.Client
	MaxRetries int
	Backoff    time.Duration
}

// Executor sends chat completion payloads upstream. Every request goes to
// the privacy proxy first; when that fails and an API key is configured,
// the executor falls back to the provider directly. Transient failures are
// retried with exponential backoff, and all outbound traffic flows through
// the rate governor.
type Executor struct {
	httpClient *http.Client
	proxyURL   string
	directURL  string
	apiKey     string
	governor   *RateGovernor
	maxRetries int
	backoff    time.Duration
	tracer     trace.Tracer
}

// NewExecutor builds an executor from the given configuration.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.DirectURL == "" {
		cfg.DirectURL = defaultDirectURL
	}
	if cfg.Governor == nil {
		cfg.Governor = NewRateGovernor(0)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Executor{
		httpClient: cfg.HTTPClient,
		proxyURL:   cfg.ProxyURL,
		directURL:  cfg.DirectURL,
		apiKey:     cfg.APIKey,
		governor:   cfg.Governor,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		tracer:     otel.Tracer("classchat/proxy"),
	}
}

// NewExecutorFromEnv reads CLASSCHAT_PROXY_URL, OPENAI_BASE_URL and
// OPENAI_API_KEY. Like the rest of the deployment, the API key may also be
// provided as a Podman secret.
func NewExecutorFromEnv(governor *RateGovernor) *Executor {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		}
	}
	directURL := defaultDirectURL
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		directURL = strings.TrimSuffix(base, "/") + "/chat/completions"
	}
	proxyURL := os.Getenv("CLASSCHAT_PROXY_URL")
	slog.Info("Initializing request executor",
		"proxy_url", proxyURL,
		"direct_url", directURL,
		"has_api_key", apiKey != "")
	return NewExecutor(ExecutorConfig{
		ProxyURL:  proxyURL,
		DirectURL: directURL,
		APIKey:    apiKey,
		Governor:  governor,
	})
}

// Execute sends the payload upstream and returns the raw 2xx response with
// its body still open. The caller owns the body.
//
// Attempt order per try: throttle, POST to the proxy, and on any proxy
// failure POST directly to the provider with the bearer credential. When no
// credential is configured the proxy failure is fatal immediately, with no
// direct attempt and no retries. Transient outcomes (network errors, 5xx,
// 429) are retried up to the configured limit with doubling backoff; any
// other non-2xx status is terminal.
func (e *Executor) Execute(ctx context.Context, payload *chatCompletionPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Code: CodeClientError, Status: http.StatusBadRequest,
			Message: fmt.Sprintf("failed to encode the request: %v", err)}
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute",
		trace.WithAttributes(attribute.String("llm.model", payload.Model)))
	defer span.End()

	var lastErr *Error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			wait := e.backoff * (1 << (attempt - 1))
			slog.Debug("Backing off before retry", "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &Error{Code: CodeTransient, Status: 0, Message: "request cancelled"}
			}
		}
		if err := e.governor.Throttle(ctx); err != nil {
			return nil, &Error{Code: CodeTransient, Status: 0, Message: "request cancelled"}
		}

		resp, attemptErr := e.attempt(ctx, body)
		if attemptErr == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			return resp, nil
		}
		if !attemptErr.Retryable() {
			slog.Warn("Chat request failed terminally",
				"code", attemptErr.Code, "status", attemptErr.Status)
			return nil, attemptErr
		}
		slog.Warn("Chat request attempt failed",
			"attempt", attempt+1, "status", attemptErr.Status, "message", attemptErr.Message)
		lastErr = attemptErr
	}
	return nil, lastErr
}

// attempt runs one proxy-then-direct round.
func (e *Executor) attempt(ctx context.Context, body []byte) (*http.Response, *Error) {
	var proxyErr *Error
	if e.proxyURL != "" {
		resp, err := e.post(ctx, e.proxyURL, body, "")
		if err == nil {
			return resp, nil
		}
		proxyErr = err
	}

	if e.apiKey == "" {
		msg := "no API key configured for the direct fallback"
		if proxyErr != nil {
			msg = fmt.Sprintf("proxy unavailable and no API key configured: %s", proxyErr.Message)
		}
		return nil, &Error{Code: CodeNoAPIKey, Status: http.StatusUnauthorized, Message: msg}
	}
	if proxyErr != nil {
		slog.Info("Proxy request failed, falling back to the provider",
			"status", proxyErr.Status)
	}
	return e.post(ctx, e.directURL, body, e.apiKey)
}

// post sends one POST and classifies any failure. A nil error means a 2xx
// response with an open body.
func (e *Executor) post(ctx context.Context, url string, body []byte, apiKey string) (*http.Response, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeClientError, Status: http.StatusBadRequest,
			Message: fmt.Sprintf("failed to build the request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeTransient, Status: 0,
			Message: fmt.Sprintf("request to %s failed: %v", url, err)}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	msg := upstreamMessage(detail, resp.StatusCode)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &Error{Code: CodeTransient, Status: resp.StatusCode, Message: msg}
	}
	return nil, &Error{Code: CodeClientError, Status: resp.StatusCode, Message: msg}
}

// upstreamMessage extracts the display message from an OpenAI-style error
// envelope, falling back to a generic status line.
func upstreamMessage(body []byte, status int) string {
	var envelope upstreamError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fmt.Sprintf("upstream returned status %d", status)
}
