package dialogue

import (
	"time"

	"github.com/koscakluka/ema-gateway/core/conversations"
)

type OrchestratorOption func(*Orchestrator)

// WithSpeechToText configures the factory used to open a transcription
// stream for each utterance.
func WithSpeechToText(newClient func() SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) {
		o.speechToText.set(newClient)
	}
}

func WithStreamingLLM(client LLM) OrchestratorOption {
	return func(o *Orchestrator) {
		o.llm.set(client)
	}
}

func WithSpeechSynthesizer(client SpeechSynthesizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.textToSpeech.set(client)
	}
}

// WithConversationStore persists turn history so conversations survive
// reconnects.
func WithConversationStore(store *conversations.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithLimiter shares an admission limiter across sessions.
func WithLimiter(limiter *Limiter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.limiter = limiter
	}
}

// WithSystemPrompt sets the instructions prepended to every model call.
func WithSystemPrompt(systemPrompt string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.llm.systemPrompt = systemPrompt
	}
}

func WithHistoryLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.historyLimit = limit
	}
}

func WithMaxAudioDuration(maxDuration time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if maxDuration > 0 {
			o.maxAudioDuration = maxDuration
		}
	}
}

// StageTimeouts bounds each pipeline stage and the turn as a whole.
type StageTimeouts struct {
	Transcription time.Duration
	Generation    time.Duration
	Synthesis     time.Duration
	Turn          time.Duration
}

func defaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Transcription: 10 * time.Second,
		Generation:    20 * time.Second,
		Synthesis:     10 * time.Second,
		Turn:          30 * time.Second,
	}
}

func WithStageTimeouts(timeouts StageTimeouts) OrchestratorOption {
	return func(o *Orchestrator) {
		defaults := defaultStageTimeouts()
		if timeouts.Transcription <= 0 {
			timeouts.Transcription = defaults.Transcription
		}
		if timeouts.Generation <= 0 {
			timeouts.Generation = defaults.Generation
		}
		if timeouts.Synthesis <= 0 {
			timeouts.Synthesis = defaults.Synthesis
		}
		if timeouts.Turn <= 0 {
			timeouts.Turn = defaults.Turn
		}
		o.timeouts = timeouts
	}
}
