package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRecoverableRealtimeError classifies service error codes the session
// can survive. Anything unknown is treated as recoverable; only codes that
// invalidate the session itself end it.
func IsRecoverableRealtimeError(code string) bool {
	switch code {
	case "session_expired", "invalid_session", "invalid_api_key", "token_expired":
		return false
	default:
		return true
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
