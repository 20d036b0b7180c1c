package groq

import (
	"github.com/koscakluka/ema-gateway/core/llms"
)

// Groq exposes an OpenAI-compatible chat completions API, so the request and
// response shapes mirror it.
type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

func toMessages(instructions string, history []llms.Message) []message {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{
			Role:    messageRoleSystem,
			Content: instructions,
		})
	}
	for _, msg := range history {
		role := messageRoleUser
		switch msg.Role {
		case llms.RoleSystem:
			role = messageRoleSystem
		case llms.RoleAssistant:
			role = messageRoleAssistant
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, message{Role: role, Content: msg.Content})
	}
	return messages
}

type requestBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	XGroq *struct {
		Usage *struct {
			PromptTokens     int     `json:"prompt_tokens"`
			CompletionTokens int     `json:"completion_tokens"`
			TotalTokens      int     `json:"total_tokens"`
			TotalTime        float64 `json:"total_time"`
		} `json:"usage"`
	} `json:"x_groq"`
}
