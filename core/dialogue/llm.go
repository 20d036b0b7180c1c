package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-gateway/core/llms"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LLM generates a streamed response to a prompt given prior conversation
// history.
type LLM interface {
	PromptWithStream(ctx context.Context, prompt *string, systemPrompt string, opts ...llms.StreamingPromptOption) llms.Stream
}

type llm struct {
	// client is the configured streaming model implementation.
	client LLM

	systemPrompt string
}

func (runtime *llm) set(client LLM) {
	if runtime != nil {
		runtime.client = client
	}
}

func (runtime *llm) isConfigured() bool {
	return runtime != nil && runtime.client != nil
}

// generate streams a response, forwarding each content chunk, and returns the
// full response text. A cancelled turn stops the stream and returns what was
// generated so far with ok set to false.
func (runtime *llm) generate(
	ctx context.Context,
	prompt string,
	history []llms.Message,
	onChunk func(string),
	cancelled func() bool,
) (response string, ok bool, err error) {
	if !runtime.isConfigured() {
		return "", false, fmt.Errorf("language model is not configured")
	}

	span := trace.SpanFromContext(ctx)

	stream := runtime.client.PromptWithStream(ctx, &prompt, runtime.systemPrompt,
		llms.WithMessages(history...),
	)

	var message strings.Builder
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			err = fmt.Errorf("failed to stream llm response: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return message.String(), false, err
		}

		if cancelled != nil && cancelled() {
			return message.String(), false, nil
		}

		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			if chunk.Content() == "" {
				continue
			}
			message.WriteString(chunk.Content())
			if onChunk != nil {
				onChunk(chunk.Content())
			}
		}
	}

	return message.String(), true, nil
}
