package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type static string

func (s static) String() string { return string(s) }

func TestProgressRender(t *testing.T) {
	var out syncBuffer
	p := NewProgress(&out)
	p.Add(static("first"))
	p.Add(static("second"))

	time.Sleep(250 * time.Millisecond)

	if !p.Stop() {
		t.Fatal("Stop() = false on first call")
	}

	if p.Stop() {
		t.Error("Stop() = true on second call")
	}

	s := out.String()
	if !strings.HasPrefix(s, "\033[?25l") {
		t.Errorf("output should start by hiding the cursor: %q", s)
	}

	if !strings.HasSuffix(s, "\n\033[?25h") {
		t.Errorf("output should end by showing the cursor: %q", s)
	}

	if !strings.Contains(s, "first\033[K\nsecond\033[K") {
		t.Errorf("output missing rendered lines: %q", s)
	}
}

func TestProgressStopAndClear(t *testing.T) {
	var out syncBuffer
	p := NewProgress(&out)
	p.Add(static("one"))
	p.Add(static("two"))

	if !p.StopAndClear() {
		t.Fatal("StopAndClear() = false on first call")
	}

	s := out.String()
	if !strings.HasSuffix(s, "\033[2K\033[A\033[2K\033[1G\033[?25h") {
		t.Errorf("lines were not cleared: %q", s)
	}
}

func TestProgressStopsSpinners(t *testing.T) {
	var out syncBuffer
	p := NewProgress(&out)

	s := NewSpinner("connecting")
	p.Add(s)
	p.Stop()

	if got := s.String(); got != "connecting " {
		t.Errorf("stopped spinner = %q, want %q", got, "connecting ")
	}
}

func TestSpinner(t *testing.T) {
	s := NewSpinner("")
	defer s.Stop()

	first := s.String()
	if first != "⠋ " {
		t.Errorf("String() = %q, want first frame", first)
	}

	time.Sleep(250 * time.Millisecond)
	if s.String() == first {
		t.Error("spinner did not advance")
	}
}
