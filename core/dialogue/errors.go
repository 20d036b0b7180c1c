package dialogue

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-gateway/core/llms"
	"github.com/koscakluka/ema-gateway/core/protocol"
)

// PipelineError is a turn failure that maps onto the wire error vocabulary.
type PipelineError struct {
	Code        protocol.ErrorCode
	Message     string
	Recoverable bool
	// RetryAfter is the suggested retry delay in seconds, 0 when none applies.
	RetryAfter int

	Err error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error { return e.Err }

func newPipelineError(code protocol.ErrorCode, message string, recoverable bool) *PipelineError {
	return &PipelineError{Code: code, Message: message, Recoverable: recoverable}
}

// asPipelineError normalizes any turn failure into a [PipelineError],
// defaulting to a non-recoverable internal error.
func asPipelineError(err error) *PipelineError {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr
	}
	return &PipelineError{
		Code:        protocol.ErrorCodeInternalError,
		Message:     "internal error",
		Recoverable: false,
		Err:         err,
	}
}

func transcriptionError(err error) *PipelineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PipelineError{
			Code:        protocol.ErrorCodeSTTTimeout,
			Message:     "transcription timed out",
			Recoverable: true,
			Err:         err,
		}
	}
	return &PipelineError{
		Code:        protocol.ErrorCodeSTTServiceError,
		Message:     "transcription failed",
		Recoverable: true,
		Err:         err,
	}
}

func generationError(err error) *PipelineError {
	var rateLimited *llms.RateLimitedError
	if errors.As(err, &rateLimited) {
		retryAfter := rateLimited.RetryAfter
		if retryAfter == 0 {
			retryAfter = defaultRetryAfterSeconds
		}
		return &PipelineError{
			Code:        protocol.ErrorCodeLLMRateLimited,
			Message:     "language model is rate limited",
			Recoverable: true,
			RetryAfter:  retryAfter,
			Err:         err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PipelineError{
			Code:        protocol.ErrorCodeLLMTimeout,
			Message:     "response generation timed out",
			Recoverable: true,
			Err:         err,
		}
	}
	return &PipelineError{
		Code:        protocol.ErrorCodeLLMServiceError,
		Message:     "response generation failed",
		Recoverable: true,
		Err:         err,
	}
}

func synthesisError(err error) *PipelineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PipelineError{
			Code:        protocol.ErrorCodeTTSTimeout,
			Message:     "speech synthesis timed out",
			Recoverable: true,
			Err:         err,
		}
	}
	return &PipelineError{
		Code:        protocol.ErrorCodeTTSServiceError,
		Message:     "speech synthesis failed",
		Recoverable: true,
		Err:         err,
	}
}
