package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	slog.SetDefault(NewLogger(&buf, slog.LevelDebug))
	Trace("hidden sample", "bytes", 1)
	assert.Empty(t, buf.String())

	slog.SetDefault(NewLogger(&buf, LevelTrace))
	Trace("progress sample", "bytes", 42)

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "bytes=42")
	assert.Contains(t, out, "source=logutil_test.go:")
	assert.False(t, strings.Contains(out, "/"), "source should be a basename: %s", out)
}
