package speedtest

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/jmorganca/speedtest/api"
	"github.com/jmorganca/speedtest/envconfig"
)

const (
	DefaultDuration  = envconfig.DefaultDuration
	DefaultChunkSize = envconfig.DefaultChunkSize
	DefaultByteCap   = envconfig.DefaultByteCap

	// MaxDuration and MaxChunkSize bound what a single test may ask for.
	// The upload chunk is held in memory for the whole session.
	MaxDuration  = time.Hour
	MaxChunkSize = 64 << 20
)

// Config describes one test. Zero Duration, ChunkSize and ByteCap select
// the defaults; ChunkSize and ByteCap only apply to uploads.
type Config struct {
	URL       string
	Duration  time.Duration
	ChunkSize int64
	ByteCap   int64
}

// ConfigFromRequest converts the wire form of a test request.
func ConfigFromRequest(req api.TestRequest) Config {
	return Config{
		URL:       req.URL,
		Duration:  durationFromMs(req.DurationCapMs),
		ChunkSize: saturate(req.ChunkSizeBytes),
		ByteCap:   saturate(req.ByteCap),
	}
}

// durationFromMs converts milliseconds without wrapping; values too large
// for a time.Duration saturate and are rejected by normalize.
func durationFromMs(ms uint64) time.Duration {
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return math.MaxInt64
	}

	return time.Duration(ms) * time.Millisecond
}

func saturate(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}

// normalize validates c for the given kind and fills in defaults.
func (c Config) normalize(kind api.Kind) (Config, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return c, &ConfigError{Field: "url", Reason: err.Error()}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return c, &ConfigError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	if u.Host == "" {
		return c, &ConfigError{Field: "url", Reason: "missing host"}
	}

	switch {
	case c.Duration < 0:
		return c, &ConfigError{Field: "duration", Reason: "must not be negative"}
	case c.Duration == 0:
		c.Duration = DefaultDuration
	case c.Duration > MaxDuration:
		return c, &ConfigError{Field: "duration", Reason: fmt.Sprintf("%s exceeds maximum %s", c.Duration, MaxDuration)}
	}

	if kind == api.KindDownload {
		c.ChunkSize, c.ByteCap = 0, 0
		return c, nil
	}

	switch {
	case c.ChunkSize < 0:
		return c, &ConfigError{Field: "chunk size", Reason: "must not be negative"}
	case c.ChunkSize == 0:
		c.ChunkSize = DefaultChunkSize
	case c.ChunkSize > MaxChunkSize:
		return c, &ConfigError{Field: "chunk size", Reason: fmt.Sprintf("%d exceeds maximum %d", c.ChunkSize, MaxChunkSize)}
	}

	switch {
	case c.ByteCap < 0:
		return c, &ConfigError{Field: "byte cap", Reason: "must not be negative"}
	case c.ByteCap == 0:
		c.ByteCap = DefaultByteCap
	}

	if c.ChunkSize > c.ByteCap {
		return c, &ConfigError{Field: "chunk size", Reason: fmt.Sprintf("%d exceeds byte cap %d", c.ChunkSize, c.ByteCap)}
	}

	return c, nil
}
