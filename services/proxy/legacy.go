package proxy

import (
	"context"
	"net/http"
)

// LegacyClient adapts the previous generation chat API onto the current
// pipeline. Old callers keep their request and response shapes; internally
// everything runs through ChatProxy, so sanitization and fallback behavior
// are identical to the modern surface.
type LegacyClient struct {
	proxy *ChatProxy
}

// NewLegacyClient wraps an existing ChatProxy.
func NewLegacyClient(p *ChatProxy) *LegacyClient {
	return &LegacyClient{proxy: p}
}

// LegacyMessage is one dialog turn in the old wire shape. Sender is "user",
// "bot" or "system".
type LegacyMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// LegacyRequest is the old completion request shape.
type LegacyRequest struct {
	Dialog     []LegacyMessage `json:"dialog"`
	UserRole   string          `json:"user_role,omitempty"`
	Hint       string          `json:"hint,omitempty"`
	ModelName  string          `json:"model_name,omitempty"`
	Creativity *float32        `json:"creativity,omitempty"`
	MaxLength  *int            `json:"max_length,omitempty"`
}

// LegacyChoice mirrors the old OpenAI-like response choice.
type LegacyChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// LegacyResponse is the old completion response shape.
type LegacyResponse struct {
	Choices  []LegacyChoice `json:"choices"`
	Usage    Usage          `json:"usage"`
	Warnings []string       `json:"warnings,omitempty"`
}

// LegacyError preserves the old error surface. Code, Status and Message
// carry the same values the modern Error would.
type LegacyError struct {
	Code    ErrorCode `json:"code"`
	Status  int       `json:"status"`
	Message string    `json:"message"`
}

func (e *LegacyError) Error() string {
	return e.Message
}

func mapSender(sender string) Role {
	switch sender {
	case "bot":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return RoleUser
	}
}

func mapUserRole(userRole string) Audience {
	switch userRole {
	case "parent":
		return AudienceParent
	case "teacher":
		return AudienceTeacher
	default:
		return AudienceStudent
	}
}

// translate converts a legacy request into the modern shape.
func (c *LegacyClient) translate(req *LegacyRequest) *ChatRequest {
	messages := make([]Message, 0, len(req.Dialog))
	for _, m := range req.Dialog {
		messages = append(messages, Message{Role: mapSender(m.Sender), Content: m.Text})
	}
	return &ChatRequest{
		Messages:    messages,
		Audience:    mapUserRole(req.UserRole),
		Context:     req.Hint,
		Model:       req.ModelName,
		Temperature: req.Creativity,
		MaxTokens:   req.MaxLength,
	}
}

// Complete runs a legacy completion through the modern pipeline.
func (c *LegacyClient) Complete(ctx context.Context, req *LegacyRequest) (*LegacyResponse, error) {
	resp, err := c.proxy.ChatCompletion(ctx, c.translate(req))
	if err != nil {
		if pe := AsError(err); pe != nil {
			return nil, &LegacyError{Code: pe.Code, Status: pe.Status, Message: pe.Message}
		}
		return nil, err
	}

	var choice LegacyChoice
	choice.Message.Role = string(RoleAssistant)
	choice.Message.Content = resp.Content
	return &LegacyResponse{
		Choices:  []LegacyChoice{choice},
		Usage:    resp.Usage,
		Warnings: resp.Warnings,
	}, nil
}

// LegacyStreamChunk is one streamed fragment in the old wire shape.
type LegacyStreamChunk struct {
	Text     string   `json:"text"`
	Done     bool     `json:"done"`
	Warnings []string `json:"warnings,omitempty"`
}

// LegacyStream wraps a ChunkStream behind the old streaming surface. Next
// follows the ChunkStream contract: io.EOF after the final chunk, typed
// errors re-wrapped as LegacyError.
type LegacyStream struct {
	stream *ChunkStream
}

// Next returns the next fragment of the reply.
func (s *LegacyStream) Next() (LegacyStreamChunk, error) {
	chunk, err := s.stream.Next()
	if err != nil {
		if pe := AsError(err); pe != nil {
			return LegacyStreamChunk{}, &LegacyError{Code: pe.Code, Status: pe.Status, Message: pe.Message}
		}
		return LegacyStreamChunk{}, err
	}
	return LegacyStreamChunk{Text: chunk.Content, Done: chunk.Done, Warnings: chunk.Warnings}, nil
}

// Close releases the underlying stream.
func (s *LegacyStream) Close() error {
	return s.stream.Close()
}

// CompleteStream runs a legacy completion through the modern streaming
// pipeline. Sanitization, transcoding and retry behavior are identical to
// the modern surface.
func (c *LegacyClient) CompleteStream(ctx context.Context, req *LegacyRequest, cancel CancelPredicate) (*LegacyStream, error) {
	stream, err := c.proxy.ChatCompletionStream(ctx, c.translate(req), cancel)
	if err != nil {
		if pe := AsError(err); pe != nil {
			return nil, &LegacyError{Code: pe.Code, Status: pe.Status, Message: pe.Message}
		}
		return nil, err
	}
	return &LegacyStream{stream: stream}, nil
}

// CompleteDirect was the old unsanitized path straight to the provider. It
// is intentionally gone; callers get a stable error instead of a silent
// privacy downgrade.
func (c *LegacyClient) CompleteDirect(ctx context.Context, req *LegacyRequest) (*LegacyResponse, error) {
	return nil, &LegacyError{
		Code:    CodeClientError,
		Status:  http.StatusGone,
		Message: "the direct completion endpoint was removed; use Complete, which applies PII masking",
	}
}
