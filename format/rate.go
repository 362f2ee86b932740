package format

import (
	"fmt"
	"time"
)

// HumanRate formats a rate given in megabits per second.
func HumanRate(mbps float64) string {
	switch {
	case mbps >= 1000:
		return fmt.Sprintf("%.2f Gbps", mbps/1000)
	case mbps >= 1:
		return fmt.Sprintf("%.2f Mbps", mbps)
	case mbps > 0:
		return fmt.Sprintf("%.0f Kbps", mbps*1000)
	default:
		return "0 Mbps"
	}
}

// HumanMillis renders a millisecond count with at most one decimal second,
// e.g. "250ms", "9.8s", "1m5s".
func HumanMillis(ms uint64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return d.String()
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
