package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryDelay is the wait before the next attempt after attemptsMade failures:
// base, 2*base, 4*base, ...
func RetryDelay(base time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attemptsMade; i++ {
		d = b.NextBackOff()
	}
	return d
}
