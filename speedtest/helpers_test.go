package speedtest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmorganca/speedtest/api"
)

func collect(t *testing.T, s *Stream) []api.Event {
	t.Helper()

	var events []api.Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for the stream to close after %d events", len(events))
		}
	}
}

// next receives one event or fails the test.
func next(t *testing.T, s *Stream) api.Event {
	t.Helper()

	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for an event")
	}

	return api.Event{}
}

// checkEvents asserts the ordering guarantees every session must uphold.
func checkEvents(t *testing.T, events []api.Event) {
	t.Helper()

	require.NotEmpty(t, events)
	require.Equal(t, api.EventStarted, events[0].Type)
	require.True(t, events[len(events)-1].Terminal(), "last event must be terminal: %v", events[len(events)-1])

	var last *api.ProgressEvent
	for i, ev := range events {
		require.Equal(t, events[0].Session, ev.Session)
		require.Equal(t, events[0].Kind, ev.Kind)

		if ev.Terminal() {
			require.Equal(t, len(events)-1, i, "event after terminal: %v", events[i:])
		}

		if ev.Type == api.EventProgress {
			if last != nil {
				require.Greater(t, ev.Progress.ElapsedMs, last.ElapsedMs)
				require.GreaterOrEqual(t, ev.Progress.BytesTransferred, last.BytesTransferred)
			}
			require.InDelta(t, Mbps(ev.Progress.BytesTransferred, ev.Progress.ElapsedMs), ev.Progress.InstantaneousMbps, 1e-9)
			last = ev.Progress
		}
	}

	if end := events[len(events)-1]; end.Type == api.EventFinished {
		r := end.Finished
		if r.ElapsedMs > 0 {
			expect := float64(r.TotalBytes) * 8 / (float64(r.ElapsedMs) / 1000) / 1e6
			require.InDelta(t, expect, r.AvgMbps, 1e-9)
		}
		if last != nil {
			require.GreaterOrEqual(t, r.TotalBytes, last.BytesTransferred)
		}
	}
}

func count(events []api.Event, typ api.EventType) int {
	var n int
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// endless streams zeros until the client goes away.
func endless(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 32*1024)
	for {
		if _, err := w.Write(buf); err != nil {
			return
		}
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
}

// throttled streams at roughly mbps until the client goes away.
func throttled(mbps float64) http.HandlerFunc {
	const tick = 10 * time.Millisecond
	perTick := int(mbps * 1e6 / 8 * tick.Seconds())

	return func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, perTick)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := w.Write(buf); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			}
		}
	}
}

// sink drains request bodies and counts what it received.
type sink struct {
	received atomic.Int64
	delay    time.Duration
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 16*1024)
	for {
		n, err := r.Body.Read(buf)
		s.received.Add(int64(n))
		if err == io.EOF {
			break
		} else if err != nil {
			return
		}

		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received":%d}`, s.received.Load())
}

// unreachable returns a URL nothing is listening on.
func unreachable(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr + "/__down"
}

func newServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

// blackhole returns a client whose dials never complete.
func blackhole(t *testing.T) *http.Client {
	t.Helper()

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-stop:
					return nil, net.ErrClosed
				}
			},
		},
	}
}

// silent returns a client connected to a peer that never reads or writes.
func silent(t *testing.T) *http.Client {
	t.Helper()

	var mu sync.Mutex
	var peers []net.Conn
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range peers {
			c.Close()
		}
	})

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				client, peer := net.Pipe()
				mu.Lock()
				peers = append(peers, peer)
				mu.Unlock()
				return client, nil
			},
		},
	}
}

// checkTimeout asserts a session that never heard from its peer ended in
// an error once the duration cap passed.
func checkTimeout(t *testing.T, r *Runner, events []api.Event, limit, elapsed time.Duration) {
	t.Helper()

	checkEvents(t, events)
	require.Len(t, events, 2, "expected only started and error: %v", events)

	end := events[1]
	require.Equal(t, api.EventError, end.Type)
	require.Contains(t, end.Error.Message, "context deadline exceeded")
	require.GreaterOrEqual(t, elapsed, limit)

	state := r.State()
	require.Equal(t, "error", state.Phase)
	require.Nil(t, state.Result)
	require.Zero(t, state.Bytes)
}
