package openai

import (
	"context"

	"github.com/koscakluka/ema-gateway/core/llms"
)

const defaultModel = "gpt-4o-mini"

// Client is a reusable handle for streaming completions from a single model.
type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		apiKey: apiKey,
		model:  defaultModel,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *Client) PromptWithStream(ctx context.Context, prompt *string, systemPrompt string, opts ...llms.StreamingPromptOption) llms.Stream {
	return PromptWithStream(ctx, c.apiKey, c.model, prompt, systemPrompt, opts...)
}
