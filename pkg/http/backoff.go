package http

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BackoffConfig configures exponential backoff between retries
type BackoffConfig struct {
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Maximum delay cap
	Multiplier float64       // Growth factor per attempt (typically 2.0)
}

// DefaultBackoffConfig returns the backoff used when none is configured
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

// CalculateBackoff returns the delay before the given retry.
// attempt is 1-indexed (first retry is attempt 1): BaseDelay * Multiplier^(attempt-1),
// capped at MaxDelay.
func CalculateBackoff(config BackoffConfig, attempt int) time.Duration {
	if attempt <= 1 {
		return capDelay(config.BaseDelay, config.MaxDelay)
	}
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || delay > float64(math.MaxInt64) {
		return config.MaxDelay
	}
	return capDelay(time.Duration(delay), config.MaxDelay)
}

func capDelay(delay, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// RetryAfter parses the Retry-After header of a 429 or 503 response, given
// either as delta seconds or as an HTTP date. It reports false when the
// header is absent or unparseable.
func RetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	val := strings.TrimSpace(headers.Get("Retry-After"))
	if val == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(val); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(val); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// retryDelay is the backoff for attempt, stretched to the server's
// Retry-After hint but never beyond MaxDelay.
func retryDelay(config BackoffConfig, attempt int, hint time.Duration) time.Duration {
	delay := CalculateBackoff(config, attempt)
	if hint > delay {
		delay = capDelay(hint, config.MaxDelay)
	}
	return delay
}
