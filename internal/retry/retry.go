// Package retry runs an operation under a bounded attempt count with
// exponential backoff and jitter. Only errors the caller classifies as
// transient are retried; anything else is returned immediately.
package retry

import (
	"context"
	"math/rand"
	"time"
)

type Policy struct {
	Attempts int           // total attempts, including the first
	Base     time.Duration // backoff for attempt i is Base*2^i plus jitter
}

// Do calls fn until it succeeds, fails permanently, the attempts are
// exhausted or ctx is done. The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, transient func(error) bool, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var err error
	for i := 0; i < p.Attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if i == p.Attempts-1 {
			break
		}
		select {
		case <-time.After(backoff(p.Base, i)):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return d + jitter
}
