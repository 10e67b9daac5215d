package syncer

import (
	"math/rand"
	"time"
)

// FullJitter picks a random delay in (0, d]. Spreads retries out so multiple
// clients recovering from the same outage do not hammer the gateway in step.
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + 1
}

// backoffDelay returns the pre-jitter delay after the given number of
// attempts: base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 32 {
		attempts = 32
	}
	return base << (attempts - 1)
}
