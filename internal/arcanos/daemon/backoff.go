package daemon

import "time"

// maxBackoff caps the exponential part of the rate-limit backoff.
const maxBackoff = 120 * time.Second

// backoffDelay computes the sleep after a 429. The exponential term doubles
// per consecutive rate-limit up to 2^4 and is capped at 120 s; a larger
// server Retry-After overrides it upward.
func backoffDelay(interval time.Duration, consecutive429 int, retryAfter time.Duration) time.Duration {
	exp := consecutive429
	if exp > 4 {
		exp = 4
	}
	delay := interval * (1 << exp)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}
