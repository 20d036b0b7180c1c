package conversations

import (
	"context"
	"fmt"
	"testing"

	"github.com/koscakluka/ema-gateway/core/llms"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveMessageCreatesConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveMessage(ctx, "c-1", llms.Message{Role: llms.RoleUser, Content: "こんにちは"}); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}

	history, err := store.History(ctx, "c-1", 0)
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Role != llms.RoleUser || history[0].Content != "こんにちは" {
		t.Fatalf("unexpected message: %#v", history[0])
	}
}

func TestHistoryKeepsMostRecentMessagesInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < DefaultHistoryLimit+5; i++ {
		role := llms.RoleUser
		if i%2 == 1 {
			role = llms.RoleAssistant
		}
		err := store.SaveMessage(ctx, "c-1", llms.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
		if err != nil {
			t.Fatalf("failed to save message %d: %v", i, err)
		}
	}

	history, err := store.History(ctx, "c-1", 0)
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != DefaultHistoryLimit {
		t.Fatalf("expected history trimmed to %d messages, got %d", DefaultHistoryLimit, len(history))
	}
	if history[0].Content != "message 5" {
		t.Fatalf("expected oldest kept message to be %q, got %q", "message 5", history[0].Content)
	}
	if history[len(history)-1].Content != fmt.Sprintf("message %d", DefaultHistoryLimit+4) {
		t.Fatalf("expected newest message last, got %q", history[len(history)-1].Content)
	}
}

func TestHistoryIsolatesConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveMessage(ctx, "c-1", llms.Message{Role: llms.RoleUser, Content: "first"}); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}
	if err := store.SaveMessage(ctx, "c-2", llms.Message{Role: llms.RoleUser, Content: "second"}); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}

	history, err := store.History(ctx, "c-2", 0)
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "second" {
		t.Fatalf("expected only messages of c-2, got %#v", history)
	}
}

func TestDeleteRemovesConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveMessage(ctx, "c-1", llms.Message{Role: llms.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}
	if err := store.Delete(ctx, "c-1"); err != nil {
		t.Fatalf("failed to delete conversation: %v", err)
	}

	history, err := store.History(ctx, "c-1", 0)
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after delete, got %d messages", len(history))
	}
}
