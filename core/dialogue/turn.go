package dialogue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type turnKind string

const (
	turnKindVoice turnKind = "voice"
	turnKindText  turnKind = "text"
)

// queuedTurn is a turn trigger waiting for the session's pipeline consumer.
type queuedTurn struct {
	kind           turnKind
	utterance      *utterance
	text           string
	conversationID string
	queuedAt       time.Time
}

// activeTurn is the one turn a session is currently processing. Cancellation
// is sticky: once cancelled, every later stage result is discarded.
type activeTurn struct {
	id             string
	kind           turnKind
	conversationID string
	startedAt      time.Time

	cancel    context.CancelFunc
	cancelled atomic.Bool

	chunkIndex int
}

func newActiveTurn(cancel context.CancelFunc, trigger queuedTurn) *activeTurn {
	return &activeTurn{
		id:             uuid.NewString(),
		kind:           trigger.kind,
		conversationID: trigger.conversationID,
		startedAt:      time.Now(),
		cancel:         cancel,
	}
}

// Cancel aborts the turn. Repeated calls are no-ops.
func (t *activeTurn) Cancel() {
	if t == nil {
		return
	}
	if t.cancelled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

func (t *activeTurn) IsCancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load()
}

// nextChunkIndex hands out strictly increasing response chunk indices,
// starting at 0.
func (t *activeTurn) nextChunkIndex() int {
	index := t.chunkIndex
	t.chunkIndex++
	return index
}
