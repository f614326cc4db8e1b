package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// dispatchBackoff bounds retries of a single NRPC call against a
// transiently unavailable node: exponential backoff up to a fixed ceiling.
func dispatchBackoff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
