package protocol

// Status is the processing stage of a dialogue turn as reported to clients.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
	StatusGenerating   Status = "generating"
	StatusSynthesizing Status = "synthesizing"
	StatusPlaying      Status = "playing"
	StatusError        Status = "error"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusRecording, StatusTranscribing, StatusGenerating,
		StatusSynthesizing, StatusPlaying, StatusError:
		return true
	}
	return false
}

// ErrorCode is the closed set of machine-readable error codes carried by
// [Error] messages.
type ErrorCode string

const (
	// Transport errors, always recoverable through reconnection.
	ErrorCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrorCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrorCodeConnectionClosed  ErrorCode = "CONNECTION_CLOSED"

	// Speech-to-text errors.
	ErrorCodeSTTServiceError         ErrorCode = "STT_SERVICE_ERROR"
	ErrorCodeSTTTimeout              ErrorCode = "STT_TIMEOUT"
	ErrorCodeAudioTooShort           ErrorCode = "AUDIO_TOO_SHORT"
	ErrorCodeAudioTooLong            ErrorCode = "AUDIO_TOO_LONG"
	ErrorCodeInvalidAudioFormat      ErrorCode = "INVALID_AUDIO_FORMAT"
	ErrorCodeSpeechRecognitionFailed ErrorCode = "SPEECH_RECOGNITION_FAILED"

	// Response generation errors.
	ErrorCodeLLMServiceError ErrorCode = "LLM_SERVICE_ERROR"
	ErrorCodeLLMTimeout      ErrorCode = "LLM_TIMEOUT"
	ErrorCodeLLMRateLimited  ErrorCode = "LLM_RATE_LIMITED"

	// Speech synthesis errors.
	ErrorCodeTTSServiceError ErrorCode = "TTS_SERVICE_ERROR"
	ErrorCodeTTSTimeout      ErrorCode = "TTS_TIMEOUT"

	// General errors.
	ErrorCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrorCodeInvalidMessage  ErrorCode = "INVALID_MESSAGE"
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// AudioFormat is the set of audio encodings accepted over the wire.
type AudioFormat string

const (
	AudioFormatPCM16 AudioFormat = "pcm16"
	AudioFormatOpus  AudioFormat = "opus"
	AudioFormatWebM  AudioFormat = "webm"
)

func (f AudioFormat) IsValid() bool {
	switch f {
	case AudioFormatPCM16, AudioFormatOpus, AudioFormatWebM:
		return true
	}
	return false
}

const (
	// MinSampleRate and MaxSampleRate bound the sample rates accepted in
	// audio_chunk messages.
	MinSampleRate = 8000
	MaxSampleRate = 48000

	// MaxTextInputLength bounds the content of a text_input message.
	MaxTextInputLength = 10000
)
