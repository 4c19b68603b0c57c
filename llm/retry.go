package llm

import "time"

// RetryConfig holds retry configuration for LLM requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per request.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for LLM requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// backoff returns the wait before the given zero-based retry attempt.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && d > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}
