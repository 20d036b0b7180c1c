package llms

// StreamingPromptOptions collects the effective options of a streaming prompt.
type StreamingPromptOptions struct {
	// Instructions is the system prompt prepended to the conversation.
	Instructions string
	// Messages is the prior conversation history, earliest first.
	Messages []Message
}

type StreamingPromptOption func(*StreamingPromptOptions)

// WithInstructions sets the system prompt for the prompt.
// Repeating this option will overwrite the previous system prompt.
func WithInstructions(instructions string) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Instructions = instructions
	}
}

// WithMessages adds passed messages to the prompt.
// Repeating this option will sequentially add more messages.
func WithMessages(messages ...Message) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Messages = append(opts.Messages, messages...)
	}
}
