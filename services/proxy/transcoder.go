package proxy

import (
	"fmt"
	"log/slog"
	"os"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultVisionModel = "gpt-4o"
)

// Transcoder converts application messages into provider wire messages and
// picks the model for a conversation.
type Transcoder struct {
	defaultModel string
	visionModel  string
}

// NewTranscoder reads CLASSCHAT_MODEL and CLASSCHAT_VISION_MODEL, falling
// back to the package defaults.
func NewTranscoder() *Transcoder {
	model := os.Getenv("CLASSCHAT_MODEL")
	if model == "" {
		model = defaultModel
	}
	vision := os.Getenv("CLASSCHAT_VISION_MODEL")
	if vision == "" {
		vision = defaultVisionModel
	}
	slog.Info("Initializing transcoder", "model", model, "vision_model", vision)
	return &Transcoder{defaultModel: model, visionModel: vision}
}

// Encode turns one message into its wire form.
//
// Text-only messages encode as a plain string. Messages with attachments
// encode as a block list: the text first (when non-empty), then one block
// per attachment. Inline images become image_url blocks with a data URI;
// all other attachments become a text placeholder naming the file, so the
// model knows something was attached without receiving its bytes.
func (t *Transcoder) Encode(m Message) providerMessage {
	if len(m.Attachments) == 0 {
		return providerMessage{Role: m.Role, Content: m.Content}
	}

	blocks := make([]contentBlock, 0, len(m.Attachments)+1)
	if m.Content != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
	}
	for _, a := range m.Attachments {
		if a.IsInlineImage() {
			blocks = append(blocks, contentBlock{
				Type:     "image_url",
				ImageURL: &imageURL{URL: fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.InlineData)},
			})
			continue
		}
		blocks = append(blocks, contentBlock{
			Type: "text",
			Text: fmt.Sprintf("[Attachment: %s (%s, %d bytes)]", a.Name, a.MimeType, a.SizeBytes),
		})
	}
	return providerMessage{Role: m.Role, Content: blocks}
}

// SelectModel returns the model for the whole conversation: the caller's
// explicit choice when given, the vision model if any message carries an
// inline image, the default model otherwise.
func (t *Transcoder) SelectModel(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	for _, m := range req.Messages {
		for _, a := range m.Attachments {
			if a.IsInlineImage() {
				return t.visionModel
			}
		}
	}
	return t.defaultModel
}
