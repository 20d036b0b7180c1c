package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports a frame the codec refused. Code distinguishes malformed
// payloads from well-formed messages that fail validation.
type DecodeError struct {
	Code   ErrorCode
	Reason string
}

func (e *DecodeError) Error() string { return e.Reason }

func newDecodeError(format string, args ...any) *DecodeError {
	return &DecodeError{Code: ErrorCodeInvalidMessage, Reason: fmt.Sprintf(format, args...)}
}

type tagProbe struct {
	Type string `json:"type"`
}

// EncodeServer encodes a server message for the wire.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil message")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q message: %w", msg.Tag(), err)
	}
	return data, nil
}

// EncodeClient encodes a client message for the wire.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil message")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q message: %w", msg.Tag(), err)
	}
	return data, nil
}

// DecodeClient decodes and validates an inbound client frame. Unknown tags
// are decode errors, never silently dropped.
func DecodeClient(data []byte) (ClientMessage, error) {
	var probe tagProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, newDecodeError("invalid JSON frame: %v", err)
	}

	switch probe.Type {
	case TagAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid audio_chunk message: %v", err)
		}
		if err := validateAudioChunk(msg); err != nil {
			return nil, err
		}
		return msg, nil

	case TagAudioEnd:
		var msg AudioEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid audio_end message: %v", err)
		}
		if msg.TotalChunks < 0 || msg.TotalDurationMS < 0 {
			return nil, newDecodeError("audio_end totals must not be negative")
		}
		return msg, nil

	case TagTextInput:
		var msg TextInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid text_input message: %v", err)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, newDecodeError("text_input content must not be empty")
		}
		if len(msg.Content) > MaxTextInputLength {
			return nil, newDecodeError("text_input content exceeds %d characters", MaxTextInputLength)
		}
		return msg, nil

	case TagCancel:
		var msg Cancel
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid cancel message: %v", err)
		}
		return msg, nil

	case TagPong:
		var msg Pong
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid pong message: %v", err)
		}
		return msg, nil

	case "":
		return nil, newDecodeError("message is missing a type")

	default:
		return nil, newDecodeError("unknown message type: %s", probe.Type)
	}
}

// DecodeServer decodes an inbound server frame on the client side.
func DecodeServer(data []byte) (ServerMessage, error) {
	var probe tagProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, newDecodeError("invalid JSON frame: %v", err)
	}

	switch probe.Type {
	case TagConnectionAck:
		var msg ConnectionAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid connection_ack message: %v", err)
		}
		if msg.SessionID == "" {
			return nil, newDecodeError("connection_ack is missing a session id")
		}
		return msg, nil

	case TagPing:
		var msg Ping
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid ping message: %v", err)
		}
		return msg, nil

	case TagTranscriptPartial:
		var msg TranscriptPartial
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid transcript_partial message: %v", err)
		}
		return msg, nil

	case TagTranscriptFinal:
		var msg TranscriptFinal
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid transcript_final message: %v", err)
		}
		return msg, nil

	case TagStatusUpdate:
		var msg StatusUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid status_update message: %v", err)
		}
		if !msg.Status.IsValid() {
			return nil, newDecodeError("unknown status: %s", msg.Status)
		}
		return msg, nil

	case TagResponseChunk:
		var msg ResponseChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid response_chunk message: %v", err)
		}
		if msg.ChunkIndex < 0 {
			return nil, newDecodeError("response_chunk index must not be negative")
		}
		return msg, nil

	case TagResponseComplete:
		var msg ResponseComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid response_complete message: %v", err)
		}
		return msg, nil

	case TagError:
		var msg Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, newDecodeError("invalid error message: %v", err)
		}
		return msg, nil

	case "":
		return nil, newDecodeError("message is missing a type")

	default:
		return nil, newDecodeError("unknown message type: %s", probe.Type)
	}
}

func validateAudioChunk(msg AudioChunk) error {
	if msg.ChunkIndex < 0 {
		return newDecodeError("audio_chunk index must not be negative")
	}
	if msg.SampleRate < MinSampleRate || msg.SampleRate > MaxSampleRate {
		return newDecodeError("audio_chunk sample rate %d outside [%d, %d]",
			msg.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if !msg.Format.IsValid() {
		return newDecodeError("unsupported audio format: %s", msg.Format)
	}
	if msg.Data == "" {
		return newDecodeError("audio_chunk carries no data")
	}
	return nil
}
