package speedtest

import (
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Mbps is the throughput of bytes moved in elapsedMs, in megabits per
// second. Progress samples and results both use it, so a sample's rate is
// the cumulative average since the session started.
func Mbps(bytes, elapsedMs uint64) float64 {
	if elapsedMs == 0 {
		return 0
	}

	return float64(bytes) * 8 / (float64(elapsedMs) / 1000) / 1e6
}

type point struct {
	ms    uint64
	bytes uint64
}

// window keeps the most recent samples to compute a rate over a short
// trailing period instead of the whole session.
type window struct {
	buf *circularbuffer.Queue
}

func newWindow(size int) *window {
	w := &window{buf: circularbuffer.New(size + 1)}
	w.buf.Enqueue(point{})
	return w
}

// add records a sample and returns the rate between the oldest retained
// sample and this one.
func (w *window) add(ms, bytes uint64) float64 {
	w.buf.Enqueue(point{ms: ms, bytes: bytes})

	oldest, ok := w.buf.Peek()
	if !ok {
		return 0
	}

	first := oldest.(point)
	if ms <= first.ms || bytes < first.bytes {
		return 0
	}

	return Mbps(bytes-first.bytes, ms-first.ms)
}
