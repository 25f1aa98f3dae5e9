package proxy

// Wire shapes for the OpenAI-compatible chat completions endpoint. Content
// is either a plain string or a list of content blocks (multimodal).

type providerMessage struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

type contentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionPayload struct {
	Model       string            `json:"model"`
	Messages    []providerMessage `json:"messages"`
	Stream      bool              `json:"stream,omitempty"`
	Temperature *float32          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// streamFrame is one decoded SSE data frame of a streaming completion.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// upstreamError is the error envelope OpenAI-compatible servers return on
// non-2xx responses.
type upstreamError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
