package speedtest

import "sync/atomic"

// Counter is the running byte total of a session. The transfer loop adds
// to it while the sampler reads it from another goroutine.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Add(n int64) int64 {
	return c.n.Add(n)
}

func (c *Counter) Load() int64 {
	return c.n.Load()
}

func (c *Counter) Reset() {
	c.n.Store(0)
}
