// Package dialogue drives the speech-to-text, response generation and speech
// synthesis pipeline for one realtime session.
//
// Each session owns one Orchestrator. Turn triggers are funneled through a
// single consumer, so a session never processes more than one turn at a time;
// a trigger arriving mid-turn is rejected. A shared [Limiter] bounds how many
// turns run concurrently across sessions.
package dialogue

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/conversations"
	"github.com/koscakluka/ema-gateway/core/llms"
	"github.com/koscakluka/ema-gateway/core/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sink delivers server messages and synthesized audio to the session's
// client.
type Sink interface {
	Send(msg protocol.ServerMessage) error
	SendAudio(audio []byte) error
}

type Orchestrator struct {
	sessionID string
	sink      Sink

	// speechToText is the STT facade used to handle optional client wiring.
	speechToText speechToText
	// llm is the model facade for streamed response generation.
	llm llm
	// textToSpeech is the facade that normalizes synthesis delivery.
	textToSpeech textToSpeech

	store   *conversations.Store
	limiter *Limiter

	historyLimit     int
	timeouts         StageTimeouts
	maxAudioDuration time.Duration

	baseContext context.Context

	queue   chan queuedTurn
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
	started   atomic.Bool

	mu          sync.Mutex
	ingest      *audioIngest
	activeTurn  *activeTurn
	turnPending bool
}

func NewOrchestrator(sessionID string, sink Sink, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sessionID:        sessionID,
		sink:             sink,
		historyLimit:     conversations.DefaultHistoryLimit,
		timeouts:         defaultStageTimeouts(),
		maxAudioDuration: DefaultMaxAudioDuration,
		baseContext:      context.Background(),
		queue:            make(chan queuedTurn, 1),
		closeCh:          make(chan struct{}),
		done:             make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate starts the turn consumer. ctx is the base context for every
// turn; cancelling it closes the orchestrator.
//
// Contract: call Orchestrate at most once per orchestrator instance.
func (o *Orchestrator) Orchestrate(ctx context.Context) {
	o.startOnce.Do(func() {
		o.baseContext = ctx
		o.started.Store(true)

		o.sendStatus(protocol.StatusIdle)

		go func() {
			<-ctx.Done()
			o.Close()
		}()

		go func() {
			defer close(o.done)

			for {
				select {
				case <-o.closeCh:
					return
				case turn := <-o.queue:
					if o.isClosed() {
						return
					}
					o.processTurn(turn)
				}
			}
		}()
	})
}

func (o *Orchestrator) Close() {
	o.endOnce.Do(func() {
		close(o.closeCh)
		o.CancelTurn("session closed")
	})

	if o.started.Load() {
		<-o.done
	}
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closeCh:
		return true
	default:
		return false
	}
}

// HandleMessage dispatches one decoded client message. Pong frames are
// handled by the connection layer and ignored here.
func (o *Orchestrator) HandleMessage(msg protocol.ClientMessage) {
	switch msg := msg.(type) {
	case protocol.AudioChunk:
		o.HandleAudioChunk(msg)
	case protocol.AudioEnd:
		o.HandleAudioEnd(msg)
	case protocol.TextInput:
		o.HandleTextInput(msg)
	case protocol.Cancel:
		o.CancelTurn(msg.Reason)
	case protocol.Pong:
	}
}

// HandleAudioChunk buffers one chunk of a recording. The first chunk of an
// utterance moves the session to the recording status.
func (o *Orchestrator) HandleAudioChunk(msg protocol.AudioChunk) {
	o.mu.Lock()
	if o.ingest == nil {
		o.ingest = newAudioIngest(o.maxAudioDuration)
	}
	ingest := o.ingest
	o.mu.Unlock()

	first := !ingest.Started()
	if err := ingest.Add(msg); err != nil {
		o.reportError(err)
		return
	}
	if first {
		o.sendStatus(protocol.StatusRecording)
	}
}

// HandleAudioEnd finalizes the recording and queues a voice turn.
func (o *Orchestrator) HandleAudioEnd(msg protocol.AudioEnd) {
	o.mu.Lock()
	ingest := o.ingest
	o.ingest = nil
	o.mu.Unlock()

	if ingest == nil {
		o.reportError(newPipelineError(protocol.ErrorCodeAudioTooShort,
			"no audio was recorded", true))
		return
	}

	utterance, err := ingest.Finalize(msg)
	if err != nil {
		o.reportError(err)
		return
	}

	o.enqueueTurn(queuedTurn{
		kind:           turnKindVoice,
		utterance:      utterance,
		conversationID: o.sessionID,
	})
}

// HandleTextInput queues a text turn, bypassing transcription.
func (o *Orchestrator) HandleTextInput(msg protocol.TextInput) {
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = o.sessionID
	}

	o.enqueueTurn(queuedTurn{
		kind:           turnKindText,
		text:           msg.Content,
		conversationID: conversationID,
	})
}

// CancelTurn aborts the active turn, if any. Cancelling with no active turn
// is a no-op, as is cancelling an already cancelled turn.
func (o *Orchestrator) CancelTurn(reason string) {
	o.mu.Lock()
	turn := o.activeTurn
	o.mu.Unlock()

	if turn == nil {
		return
	}

	logger.InfoContext(o.baseContext, "Cancelling active turn",
		"session_id", o.sessionID, "turn_id", turn.id, "reason", reason)
	turn.Cancel()
}

// enqueueTurn admits one turn trigger. A trigger arriving while another turn
// is active or queued is rejected; the client has to cancel the active turn
// first.
func (o *Orchestrator) enqueueTurn(turn queuedTurn) {
	turn.queuedAt = time.Now()

	o.mu.Lock()
	if o.turnPending {
		o.mu.Unlock()
		o.reportError(&PipelineError{
			Code:        protocol.ErrorCodeTooManyRequests,
			Message:     "a turn is already in progress, cancel it first",
			Recoverable: true,
			RetryAfter:  defaultRetryAfterSeconds,
		})
		return
	}
	o.turnPending = true
	o.mu.Unlock()

	select {
	case <-o.closeCh:
	case o.queue <- turn:
	}
}

func (o *Orchestrator) processTurn(trigger queuedTurn) {
	defer func() {
		o.mu.Lock()
		o.turnPending = false
		o.mu.Unlock()
	}()

	ctx, span := tracer.Start(o.baseContext, "process turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", o.sessionID),
		attribute.String("turn.kind", string(trigger.kind)),
		attribute.Float64("turn.queued_time", time.Since(trigger.queuedAt).Seconds()),
	)

	if o.limiter != nil {
		release, err := o.limiter.Acquire()
		if err != nil {
			o.failTurn(ctx, err)
			return
		}
		defer release()
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.timeouts.Turn)
	defer cancel()

	turn := newActiveTurn(cancel, trigger)
	span.SetAttributes(attribute.String("turn.id", turn.id))

	o.mu.Lock()
	o.activeTurn = turn
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.activeTurn = nil
		o.mu.Unlock()
	}()

	prompt := trigger.text
	if trigger.kind == turnKindVoice {
		transcript, ok := o.runTranscription(turnCtx, turn, trigger.utterance)
		if !ok {
			return
		}
		prompt = transcript
	}

	if turn.IsCancelled() {
		o.finishCancelled(ctx)
		return
	}

	history := o.loadHistory(turn.conversationID)
	o.saveMessage(turn.conversationID, llms.Message{Role: llms.RoleUser, Content: prompt})

	response, ok := o.runGeneration(turnCtx, turn, prompt, history)
	if !ok {
		return
	}

	audioBytes, ok := o.runSynthesis(turnCtx, turn, trigger, response)
	if !ok {
		return
	}

	if audioBytes > 0 {
		o.sendStatus(protocol.StatusPlaying)
	}
	o.send(protocol.NewResponseComplete(response, audioBytes > 0))
	o.saveMessage(turn.conversationID, llms.Message{Role: llms.RoleAssistant, Content: response})
	o.sendStatus(protocol.StatusIdle)

	span.SetAttributes(
		attribute.Int("turn.response_length", len(response)),
		attribute.Int("turn.audio_bytes", audioBytes),
		attribute.Float64("turn.duration", time.Since(turn.startedAt).Seconds()),
	)
}

func (o *Orchestrator) runTranscription(ctx context.Context, turn *activeTurn, u *utterance) (string, bool) {
	o.sendStatus(protocol.StatusTranscribing)

	transcriptionCtx, cancel := context.WithTimeout(ctx, o.timeouts.Transcription)
	defer cancel()

	result, err := o.speechToText.transcribeUtterance(transcriptionCtx, u,
		func(transcript string, confidence float64) {
			if turn.IsCancelled() {
				return
			}
			o.send(protocol.NewTranscriptPartial(transcript, &confidence))
		})
	if err != nil {
		if turn.IsCancelled() {
			o.finishCancelled(ctx)
			return "", false
		}
		o.failTurn(ctx, transcriptionError(err))
		return "", false
	}
	if turn.IsCancelled() {
		o.finishCancelled(ctx)
		return "", false
	}

	if strings.TrimSpace(result.transcript) == "" {
		o.failTurn(ctx, newPipelineError(protocol.ErrorCodeSpeechRecognitionFailed,
			"no speech was recognized in the audio", true))
		return "", false
	}

	o.send(protocol.NewTranscriptFinal(result.transcript, result.confidence,
		int(u.duration.Milliseconds())))
	return result.transcript, true
}

func (o *Orchestrator) runGeneration(ctx context.Context, turn *activeTurn, prompt string, history []llms.Message) (string, bool) {
	o.sendStatus(protocol.StatusGenerating)

	generationCtx, cancel := context.WithTimeout(ctx, o.timeouts.Generation)
	defer cancel()

	response, completed, err := o.llm.generate(generationCtx, prompt, history,
		func(chunk string) {
			if turn.IsCancelled() {
				return
			}
			o.send(protocol.NewResponseChunk(chunk, turn.nextChunkIndex()))
		},
		turn.IsCancelled,
	)
	if err != nil {
		if turn.IsCancelled() {
			o.finishCancelled(ctx)
			return "", false
		}
		o.failTurn(ctx, generationError(err))
		return "", false
	}
	if !completed || turn.IsCancelled() {
		o.finishCancelled(ctx)
		return "", false
	}
	if strings.TrimSpace(response) == "" {
		o.failTurn(ctx, newPipelineError(protocol.ErrorCodeLLMServiceError,
			"model returned an empty response", true))
		return "", false
	}

	return response, true
}

func (o *Orchestrator) runSynthesis(ctx context.Context, turn *activeTurn, trigger queuedTurn, response string) (int, bool) {
	if !o.textToSpeech.isConfigured() {
		return 0, true
	}

	o.sendStatus(protocol.StatusSynthesizing)

	synthesisCtx, cancel := context.WithTimeout(ctx, o.timeouts.Synthesis)
	defer cancel()

	audioBytes, err := o.textToSpeech.synthesize(synthesisCtx, response,
		synthesisEncoding(trigger),
		func(chunk []byte) {
			if turn.IsCancelled() {
				return
			}
			o.sendAudio(chunk)
		})
	if err != nil {
		if turn.IsCancelled() {
			o.finishCancelled(ctx)
			return 0, false
		}
		o.failTurn(ctx, synthesisError(err))
		return 0, false
	}
	if turn.IsCancelled() {
		o.finishCancelled(ctx)
		return 0, false
	}

	return audioBytes, true
}

// synthesisEncoding picks the output encoding for a turn. Voice turns get
// speech back in the encoding they recorded in when it is a raw format;
// everything else falls back to the default.
func synthesisEncoding(trigger queuedTurn) audio.EncodingInfo {
	if trigger.utterance != nil && trigger.utterance.encoding.Format == audio.EncodingLinear16 {
		return trigger.utterance.encoding
	}
	return audio.GetDefaultEncodingInfo()
}

func (o *Orchestrator) loadHistory(conversationID string) []llms.Message {
	if o.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(o.baseContext, 5*time.Second)
	defer cancel()

	history, err := o.store.History(ctx, conversationID, o.historyLimit)
	if err != nil {
		logger.WarnContext(o.baseContext, "Failed to load conversation history",
			"session_id", o.sessionID, "error", err)
		return nil
	}

	var snapshot []llms.Message
	if err := copier.Copy(&snapshot, &history); err != nil {
		return history
	}
	return snapshot
}

func (o *Orchestrator) saveMessage(conversationID string, message llms.Message) {
	if o.store == nil || conversationID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(o.baseContext, 5*time.Second)
	defer cancel()

	if err := o.store.SaveMessage(ctx, conversationID, message); err != nil {
		logger.WarnContext(o.baseContext, "Failed to save conversation message",
			"session_id", o.sessionID, "error", err)
	}
}

// failTurn reports a turn failure to the client and returns the session to
// idle so the next turn can start.
func (o *Orchestrator) failTurn(ctx context.Context, err error) {
	pipelineErr := asPipelineError(err)

	span := trace.SpanFromContext(ctx)
	span.RecordError(pipelineErr)
	span.SetStatus(codes.Error, pipelineErr.Error())
	span.SetAttributes(attribute.String("turn.error_code", string(pipelineErr.Code)))

	o.reportError(pipelineErr)
	o.sendStatus(protocol.StatusError)
	o.sendStatus(protocol.StatusIdle)
}

func (o *Orchestrator) finishCancelled(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("turn cancelled")
	o.sendStatus(protocol.StatusIdle)
}

func (o *Orchestrator) reportError(err error) {
	pipelineErr := asPipelineError(err)

	msg := protocol.NewError(pipelineErr.Code, pipelineErr.Message, pipelineErr.Recoverable)
	if pipelineErr.RetryAfter > 0 {
		retryAfter := pipelineErr.RetryAfter
		msg.RetryAfter = &retryAfter
	}
	o.send(msg)
}

func (o *Orchestrator) send(msg protocol.ServerMessage) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Send(msg); err != nil {
		logger.WarnContext(o.baseContext, "Failed to deliver server message",
			"session_id", o.sessionID, "message_type", msg.Tag(), "error", err)
	}
}

func (o *Orchestrator) sendAudio(chunk []byte) {
	if o.sink == nil {
		return
	}
	if err := o.sink.SendAudio(chunk); err != nil {
		logger.WarnContext(o.baseContext, "Failed to deliver audio",
			"session_id", o.sessionID, "error", err)
	}
}

func (o *Orchestrator) sendStatus(status protocol.Status) {
	o.send(protocol.NewStatusUpdate(status))
}
