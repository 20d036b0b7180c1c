// Package protocol defines the closed sets of typed messages exchanged over a
// realtime dialogue connection, and the codec that moves them on and off the
// wire.
//
// Every message carries a type discriminator and a timestamp. Both directions
// are closed sets: the codec refuses tags it does not know instead of
// dropping them.
package protocol

import "time"

// ServerMessage is a message sent from the gateway to a client.
type ServerMessage interface {
	// Tag returns the wire discriminator of the message.
	Tag() string
}

const (
	TagConnectionAck     = "connection_ack"
	TagPing              = "ping"
	TagTranscriptPartial = "transcript_partial"
	TagTranscriptFinal   = "transcript_final"
	TagStatusUpdate      = "status_update"
	TagResponseChunk     = "response_chunk"
	TagResponseComplete  = "response_complete"
	TagError             = "error"
)

// ConnectionAck acknowledges a successful handshake and carries the session
// id issued for the connection.
type ConnectionAck struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	ServerTime time.Time `json:"server_time"`
	Timestamp  time.Time `json:"timestamp"`
}

func (ConnectionAck) Tag() string { return TagConnectionAck }

func NewConnectionAck(sessionID string) ConnectionAck {
	now := time.Now().UTC()
	return ConnectionAck{Type: TagConnectionAck, SessionID: sessionID, ServerTime: now, Timestamp: now}
}

// Ping is the server-side heartbeat. Clients answer with [Pong].
type Ping struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (Ping) Tag() string { return TagPing }

func NewPing() Ping {
	return Ping{Type: TagPing, Timestamp: time.Now().UTC()}
}

// TranscriptPartial is a provisional transcription that may still be revised.
// A later partial or final supersedes it.
type TranscriptPartial struct {
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (TranscriptPartial) Tag() string { return TagTranscriptPartial }

func NewTranscriptPartial(content string, confidence *float64) TranscriptPartial {
	return TranscriptPartial{
		Type:       TagTranscriptPartial,
		Content:    content,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

// TranscriptFinal is the single authoritative transcription of a turn.
type TranscriptFinal struct {
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	DurationMS int       `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

func (TranscriptFinal) Tag() string { return TagTranscriptFinal }

func NewTranscriptFinal(content string, confidence float64, durationMS int) TranscriptFinal {
	return TranscriptFinal{
		Type:       TagTranscriptFinal,
		Content:    content,
		Confidence: confidence,
		DurationMS: durationMS,
		Timestamp:  time.Now().UTC(),
	}
}

// StatusUpdate reports the turn's current processing stage.
type StatusUpdate struct {
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (StatusUpdate) Tag() string { return TagStatusUpdate }

func NewStatusUpdate(status Status) StatusUpdate {
	return StatusUpdate{Type: TagStatusUpdate, Status: status, Timestamp: time.Now().UTC()}
}

// ResponseChunk is one streamed increment of the assistant response.
// ChunkIndex starts at 0 and increases strictly within a turn.
type ResponseChunk struct {
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	Timestamp  time.Time `json:"timestamp"`
}

func (ResponseChunk) Tag() string { return TagResponseChunk }

func NewResponseChunk(content string, chunkIndex int) ResponseChunk {
	return ResponseChunk{
		Type:       TagResponseChunk,
		Content:    content,
		ChunkIndex: chunkIndex,
		Timestamp:  time.Now().UTC(),
	}
}

// ResponseComplete closes response streaming for a turn. FullText is the
// ordered concatenation of every chunk that was sent.
type ResponseComplete struct {
	Type           string    `json:"type"`
	FullText       string    `json:"full_text"`
	AudioAvailable bool      `json:"audio_available"`
	Timestamp      time.Time `json:"timestamp"`
}

func (ResponseComplete) Tag() string { return TagResponseComplete }

func NewResponseComplete(fullText string, audioAvailable bool) ResponseComplete {
	return ResponseComplete{
		Type:           TagResponseComplete,
		FullText:       fullText,
		AudioAvailable: audioAvailable,
		Timestamp:      time.Now().UTC(),
	}
}

// Error notifies the client of a failure. Recoverable errors may be retried
// by the client; non-recoverable ones require a fresh turn.
type Error struct {
	Type        string         `json:"type"`
	Code        ErrorCode      `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Recoverable bool           `json:"recoverable"`
	RetryAfter  *int           `json:"retry_after,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (Error) Tag() string { return TagError }

func NewError(code ErrorCode, message string, recoverable bool) Error {
	return Error{
		Type:        TagError,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	}
}
