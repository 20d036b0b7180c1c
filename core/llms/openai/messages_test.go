package openai

import (
	"testing"

	"github.com/koscakluka/ema-gateway/core/llms"
)

func TestToMessagesPrependsInstructions(t *testing.T) {
	messages := toMessages("You are a helpful assistant.", []llms.Message{
		{Role: llms.RoleUser, Content: "こんにちは"},
		{Role: llms.RoleAssistant, Content: "こんにちは！"},
	})

	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Role != messageRoleSystem {
		t.Fatalf("expected first message to be the system prompt, got role %q", messages[0].Role)
	}
	if messages[1].Role != messageRoleUser || messages[2].Role != messageRoleAssistant {
		t.Fatalf("expected history roles to be preserved, got %q and %q", messages[1].Role, messages[2].Role)
	}
}

func TestToMessagesSkipsEmptyContent(t *testing.T) {
	messages := toMessages("", []llms.Message{
		{Role: llms.RoleUser, Content: ""},
		{Role: llms.RoleUser, Content: "hello"},
	})

	if len(messages) != 1 {
		t.Fatalf("expected empty messages to be dropped, got %d messages", len(messages))
	}
	if messages[0].Content != "hello" {
		t.Fatalf("expected remaining message content %q, got %q", "hello", messages[0].Content)
	}
}
