package protocol

import "time"

// ClientMessage is a message sent from a client to the gateway.
type ClientMessage interface {
	// Tag returns the wire discriminator of the message.
	Tag() string
}

const (
	TagAudioChunk = "audio_chunk"
	TagAudioEnd   = "audio_end"
	TagTextInput  = "text_input"
	TagCancel     = "cancel"
	TagPong       = "pong"
)

// AudioChunk carries one base64-encoded slice of recorded audio.
// ChunkIndex must increase strictly within a turn.
type AudioChunk struct {
	Type       string      `json:"type"`
	Data       string      `json:"data"`
	ChunkIndex int         `json:"chunk_index"`
	SampleRate int         `json:"sample_rate"`
	Format     AudioFormat `json:"format"`
	Timestamp  time.Time   `json:"timestamp"`
}

func (AudioChunk) Tag() string { return TagAudioChunk }

func NewAudioChunk(data string, chunkIndex int, sampleRate int, format AudioFormat) AudioChunk {
	return AudioChunk{
		Type:       TagAudioChunk,
		Data:       data,
		ChunkIndex: chunkIndex,
		SampleRate: sampleRate,
		Format:     format,
		Timestamp:  time.Now().UTC(),
	}
}

// AudioEnd marks the end of an utterance. The declared totals are
// cross-checked against what the server actually buffered.
type AudioEnd struct {
	Type            string    `json:"type"`
	TotalChunks     int       `json:"total_chunks"`
	TotalDurationMS int       `json:"total_duration_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

func (AudioEnd) Tag() string { return TagAudioEnd }

func NewAudioEnd(totalChunks int, totalDurationMS int) AudioEnd {
	return AudioEnd{
		Type:            TagAudioEnd,
		TotalChunks:     totalChunks,
		TotalDurationMS: totalDurationMS,
		Timestamp:       time.Now().UTC(),
	}
}

// TextInput starts a turn from typed text instead of voice.
type TextInput struct {
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (TextInput) Tag() string { return TagTextInput }

func NewTextInput(content string, conversationID string) TextInput {
	return TextInput{
		Type:           TagTextInput,
		Content:        content,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

// Cancel aborts the active turn, if any. Cancelling with no active turn is a
// no-op on the server.
type Cancel struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (Cancel) Tag() string { return TagCancel }

func NewCancel(reason string) Cancel {
	return Cancel{Type: TagCancel, Reason: reason, Timestamp: time.Now().UTC()}
}

// Pong answers a server [Ping].
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (Pong) Tag() string { return TagPong }

func NewPong() Pong {
	return Pong{Type: TagPong, Timestamp: time.Now().UTC()}
}
