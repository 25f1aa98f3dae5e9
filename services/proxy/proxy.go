// Package proxy implements the privacy-enforcing chat pipeline: inbound
// messages are sanitized, transcoded to the provider wire format, rate
// limited and executed with a proxy-first, direct-fallback strategy, in
// both blocking and streaming form.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ClassChat/services/sanitizer"
)

// PreferenceSource supplies the current user's privacy preferences at call
// time, so preference changes apply to the next request without restarts.
type PreferenceSource interface {
	Preferences() sanitizer.PrivacyPreferences
}

// PreferenceFunc adapts a function to the PreferenceSource interface.
type PreferenceFunc func() sanitizer.PrivacyPreferences

func (f PreferenceFunc) Preferences() sanitizer.PrivacyPreferences {
	return f()
}

var _ PreferenceSource = (PreferenceFunc)(nil)

// Config wires a ChatProxy. Nil fields are replaced with environment-driven
// defaults.
type Config struct {
	Sanitizer   *sanitizer.Sanitizer
	Executor    *Executor
	Transcoder  *Transcoder
	Preferences PreferenceSource
}

// ChatProxy is the package entry point tying the pipeline together.
type ChatProxy struct {
	sanitizer   *sanitizer.Sanitizer
	executor    *Executor
	transcoder  *Transcoder
	preferences PreferenceSource

	allowedEmailDomains []string
	tracer              trace.Tracer
}

// New builds a ChatProxy, filling in any component missing from cfg.
// CLASSCHAT_ALLOWED_EMAIL_DOMAINS is a comma-separated list of email
// domains exempt from masking.
func New(cfg Config) (*ChatProxy, error) {
	if cfg.Sanitizer == nil {
		s, err := sanitizer.New()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize the sanitizer: %w", err)
		}
		cfg.Sanitizer = s
	}
	if cfg.Transcoder == nil {
		cfg.Transcoder = NewTranscoder()
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutorFromEnv(NewRateGovernorFromEnv())
	}
	if cfg.Preferences == nil {
		cfg.Preferences = PreferenceFunc(func() sanitizer.PrivacyPreferences {
			return sanitizer.PrivacyPreferences{}
		})
	}

	var domains []string
	for _, d := range strings.Split(os.Getenv("CLASSCHAT_ALLOWED_EMAIL_DOMAINS"), ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}

	return &ChatProxy{
		sanitizer:           cfg.Sanitizer,
		executor:            cfg.Executor,
		transcoder:          cfg.Transcoder,
		preferences:         cfg.Preferences,
		allowedEmailDomains: domains,
		tracer:              otel.Tracer("classchat/proxy"),
	}, nil
}

// categoryLabels maps detector categories to the user-facing warning text.
var categoryLabels = map[sanitizer.Category]string{
	sanitizer.CategoryEmail:         "email addresses",
	sanitizer.CategoryPhone:         "phone numbers",
	sanitizer.CategoryCreditCard:    "credit card numbers",
	sanitizer.CategoryNationalID:    "ID numbers",
	sanitizer.CategoryStreetAddress: "street addresses",
	sanitizer.CategoryPostalCode:    "postal codes",
	sanitizer.CategoryName:          "names",
}

// prepare validates the request, masks PII in user content, and assembles
// the outbound payload. Only user messages and the application context are
// sanitized; assistant turns are the provider's own prior output.
func (p *ChatProxy) prepare(req *ChatRequest) (*chatCompletionPayload, []string, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, &Error{Code: CodeClientError, Status: http.StatusBadRequest, Message: err.Error()}
	}

	prefs := p.preferences.Preferences()
	settings := sanitizer.SettingsFromPreferences(prefs)
	settings.AllowedEmailDomains = p.allowedEmailDomains

	seen := make(map[sanitizer.Category]bool)
	var warnings []string
	record := func(categories []sanitizer.Category) {
		for _, c := range categories {
			if seen[c] {
				continue
			}
			seen[c] = true
			label := categoryLabels[c]
			if label == "" {
				label = string(c)
			}
			warnings = append(warnings, fmt.Sprintf("Masked %s before sending your message.", label))
		}
	}

	appContext := ""
	if prefs.ShareContext && req.Context != "" {
		res := p.sanitizer.Sanitize(req.Context, settings)
		record(res.DetectedCategories)
		appContext = res.MaskedContent
	}

	messages := make([]providerMessage, 0, len(req.Messages)+1)
	messages = append(messages, providerMessage{
		Role:    RoleSystem,
		Content: buildSystemPrompt(req.Audience, appContext),
	})
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			res := p.sanitizer.Sanitize(m.Content, settings)
			record(res.DetectedCategories)
			m.Content = res.MaskedContent
		}
		messages = append(messages, p.transcoder.Encode(m))
	}

	payload := &chatCompletionPayload{
		Model:       p.transcoder.SelectModel(req),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	return payload, warnings, nil
}

// ChatCompletion runs the full pipeline and blocks for the complete answer.
func (p *ChatProxy) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ctx, span := p.tracer.Start(ctx, "proxy.ChatCompletion")
	defer span.End()

	payload, warnings, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("llm.model", payload.Model),
		attribute.Int("chat.warnings", len(warnings)),
	)

	resp, err := p.executor.Execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion chatCompletionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&completion); err != nil {
		return nil, &Error{Code: CodeTransient, Status: 0,
			Message: fmt.Sprintf("failed to decode the completion: %v", err)}
	}
	if len(completion.Choices) == 0 {
		return nil, &Error{Code: CodeTransient, Status: 0, Message: "upstream returned no choices"}
	}

	slog.Debug("Chat completion finished",
		"model", payload.Model,
		"total_tokens", completion.Usage.TotalTokens)
	return &ChatResponse{
		Content:  completion.Choices[0].Message.Content,
		Usage:    completion.Usage,
		Warnings: warnings,
	}, nil
}

// ChatCompletionStream runs the pipeline with streaming enabled. The
// returned stream owns the upstream body; cancel is polled between reads.
func (p *ChatProxy) ChatCompletionStream(ctx context.Context, req *ChatRequest, cancel CancelPredicate) (*ChunkStream, error) {
	ctx, span := p.tracer.Start(ctx, "proxy.ChatCompletionStream")
	defer span.End()

	payload, warnings, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	payload.Stream = true
	span.SetAttributes(attribute.String("llm.model", payload.Model))

	resp, err := p.executor.Execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	return newChunkStream(resp.Body, warnings, cancel), nil
}
