package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrMaxAttempts is wrapped around the last error when Retry gives up.
var ErrMaxAttempts = errors.New("max retries exceeded")

// Retry calls fn until it succeeds, attempts calls have failed, or ctx is
// done. The wait before call n is n² × 10ms capped at maxBackoff, scaled by
// a random factor in [0.5, 1.5).
func Retry(ctx context.Context, attempts int, maxBackoff time.Duration, fn func() error) error {
	var err error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			d := min(time.Duration(n*n)*10*time.Millisecond, maxBackoff)
			d = time.Duration(float64(d) * (rand.Float64() + 0.5))

			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(ctx.Err(), err)
			case <-t.C:
			}
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	return errors.Join(ErrMaxAttempts, err)
}
