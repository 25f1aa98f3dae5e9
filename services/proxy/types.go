package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Role is a chat message role on the provider wire.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Audience selects the system-prompt persona for a conversation.
type Audience string

const (
	AudienceStudent Audience = "student"
	AudienceParent  Audience = "parent"
	AudienceTeacher Audience = "teacher"
)

// Attachment is a file the user attached to a message. Only inline images
// are forwarded to the provider; everything else is summarized as a text
// placeholder by the transcoder.
type Attachment struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`

	// InlineData is the base64 payload for inline images, without the
	// data-URI prefix. Empty for non-inline attachments.
	InlineData string `json:"inline_data,omitempty"`
}

// IsInlineImage reports whether the attachment can be sent as an image
// content block. Any image/* mime type with inline data qualifies; the
// provider rejects formats it cannot decode on its own.
func (a Attachment) IsInlineImage() bool {
	return strings.HasPrefix(a.MimeType, "image/") && a.InlineData != ""
}

// Message is one turn of the conversation as submitted by the caller.
type Message struct {
	Role        Role         `json:"role" validate:"required,oneof=system user assistant"`
	Content     string       `json:"content" validate:"maxbytes=65536"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"max=8"`
}

// ChatRequest is the inbound request for both the blocking and streaming
// chat operations.
type ChatRequest struct {
	Messages []Message `json:"messages" validate:"required,min=1,max=64,dive"`
	Audience Audience  `json:"audience" validate:"omitempty,oneof=student parent teacher"`

	// Context is free-form application context (course, grade level)
	// embedded into the system prompt when the user allows it.
	Context string `json:"context,omitempty" validate:"maxbytes=8192"`

	Stream      bool     `json:"stream,omitempty"`
	Model       string   `json:"model,omitempty" validate:"maxbytes=128"`
	Temperature *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0,lte=32768"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// maxbytes limits the UTF-8 byte length of a string field.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		max, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= max
	})
	return v
}

// Validate checks the request against the field constraints above.
func (r *ChatRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// Usage is the provider-reported token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the result of a blocking chat completion.
type ChatResponse struct {
	Content  string   `json:"content"`
	Usage    Usage    `json:"usage"`
	Warnings []string `json:"warnings,omitempty"`
}

// StreamChunk is one increment of a streaming completion. The final chunk
// has Done set and empty Content. Warnings, when present, arrive on the
// first chunk only.
type StreamChunk struct {
	Content  string   `json:"content"`
	Done     bool     `json:"done"`
	Warnings []string `json:"warnings,omitempty"`
}
