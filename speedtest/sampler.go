package speedtest

import "time"

// DefaultInterval is the progress sampling cadence.
const DefaultInterval = 250 * time.Millisecond

// Sampler ticks at a fixed interval and measures elapsed time from a single
// monotonic clock reading taken when the session started.
type Sampler struct {
	start  time.Time
	ticker *time.Ticker
}

func NewSampler(start time.Time, interval time.Duration) *Sampler {
	return &Sampler{
		start:  start,
		ticker: time.NewTicker(interval),
	}
}

func (s *Sampler) C() <-chan time.Time {
	return s.ticker.C
}

func (s *Sampler) Elapsed() time.Duration {
	return time.Since(s.start)
}

func (s *Sampler) ElapsedMs() uint64 {
	return uint64(s.Elapsed().Milliseconds())
}

func (s *Sampler) Stop() {
	s.ticker.Stop()
}
