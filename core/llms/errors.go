package llms

import (
	"errors"
	"fmt"
)

// RateLimitedError is returned when the model provider rejects a request for
// exceeding its rate limits.
type RateLimitedError struct {
	// RetryAfter is the provider-suggested retry delay in seconds, 0 if the
	// provider did not include one.
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfter)
	}
	return "rate limited"
}

// IsRateLimited reports whether err wraps a [RateLimitedError].
func IsRateLimited(err error) bool {
	var rateLimited *RateLimitedError
	return errors.As(err, &rateLimited)
}
