package dialogue

import (
	"sync"
	"time"

	"github.com/koscakluka/ema-gateway/core/protocol"
)

const (
	// DefaultMaxConcurrentTurns bounds how many turns may run their pipeline
	// at the same time across all sessions.
	DefaultMaxConcurrentTurns = 5

	// admissionWait is how long an arriving turn may wait for a slot before
	// it is rejected instead of queued.
	admissionWait = 100 * time.Millisecond

	defaultRetryAfterSeconds = 5
)

// Limiter admits a bounded number of concurrent turns. Admission is
// fail-fast: a turn that cannot get a slot almost immediately is rejected so
// the client can retry, instead of queueing up behind slow turns.
type Limiter struct {
	slots chan struct{}
}

func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentTurns
	}
	return &Limiter{slots: make(chan struct{}, maxConcurrent)}
}

// Acquire claims a slot, waiting at most the admission window. The returned
// release function is safe to call more than once; only the first call
// returns the slot.
func (l *Limiter) Acquire() (release func(), err error) {
	timer := time.NewTimer(admissionWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		releaseOnce := sync.Once{}
		return func() {
			releaseOnce.Do(func() { <-l.slots })
		}, nil
	case <-timer.C:
		return nil, &PipelineError{
			Code:        protocol.ErrorCodeTooManyRequests,
			Message:     "too many concurrent requests",
			Recoverable: true,
			RetryAfter:  defaultRetryAfterSeconds,
		}
	}
}

// InUse reports how many slots are currently claimed.
func (l *Limiter) InUse() int {
	return len(l.slots)
}

// Capacity reports the total number of slots.
func (l *Limiter) Capacity() int {
	return cap(l.slots)
}
