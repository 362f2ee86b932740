package progress

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/jmorganca/speedtest/format"
)

// Bar tracks a time-bound transfer. The fill shows how much of the duration
// cap has passed; the stats show what has moved so far.
type Bar struct {
	message      string
	messageWidth int

	mu      sync.Mutex
	limit   time.Duration
	elapsed time.Duration
	bytes   int64
	mbps    float64
	window  float64
	done    bool
}

func NewBar(message string, limit time.Duration) *Bar {
	return &Bar{
		message:      message,
		messageWidth: -1,
		limit:        limit,
	}
}

// Set records the latest sample. Elapsed time beyond the limit is clamped.
func (b *Bar) Set(elapsed time.Duration, bytes int64, mbps, window float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.elapsed = min(elapsed, b.limit)
	b.bytes = bytes
	b.mbps = mbps
	b.window = window
}

// Finish fills the bar and pins the final average.
func (b *Bar) Finish(elapsed time.Duration, bytes int64, mbps float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.elapsed = min(elapsed, b.limit)
	b.bytes = bytes
	b.mbps = mbps
	b.window = 0
	b.done = true
}

func (b *Bar) percent() float64 {
	if b.done {
		return 100
	}

	if b.limit > 0 {
		return float64(b.elapsed) / float64(b.limit) * 100
	}

	return 0
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = defaultTermWidth
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var pre, mid, suf strings.Builder

	if b.message != "" {
		message := strings.TrimSpace(b.message)
		if b.messageWidth > 0 && len(message) > b.messageWidth {
			message = message[:b.messageWidth]
		}

		fmt.Fprintf(&pre, "%s", message)
		if b.messageWidth-pre.Len() >= 0 {
			pre.WriteString(strings.Repeat(" ", b.messageWidth-pre.Len()))
		}

		pre.WriteString(" ")
	}

	fmt.Fprintf(&pre, "%3.0f%% ", b.percent())

	fmt.Fprintf(&suf, "(%s, %s", format.HumanBytes(b.bytes), format.HumanRate(b.mbps))
	if b.window > 0 {
		fmt.Fprintf(&suf, ", now %s", format.HumanRate(b.window))
	}
	suf.WriteString(")")

	timing := fmt.Sprintf("[%s/%s]", format.HumanMillis(uint64(b.elapsed.Milliseconds())), format.HumanMillis(uint64(b.limit.Milliseconds())))

	// 48 is the maximum width for the stats on the right of the bar
	if pad := 48 - suf.Len() - len(timing); pad > 0 {
		suf.WriteString(strings.Repeat(" ", pad))
	} else {
		suf.WriteString(" ")
	}

	suf.WriteString(timing)

	// add 3 extra spaces: 2 boundary characters and 1 space at the end
	f := termWidth - pre.Len() - suf.Len() - 3
	n := int(float64(f) * b.percent() / 100)

	if f > 0 {
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		if f-n > 0 {
			mid.WriteString(strings.Repeat(" ", f-n))
		}
		mid.WriteString("▏")
	}

	return pre.String() + mid.String() + suf.String()
}
