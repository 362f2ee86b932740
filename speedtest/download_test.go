package speedtest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/speedtest/api"
)

func TestDownloadStreamEnd(t *testing.T) {
	const size = 3 * 1024 * 1024
	ts := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, size))
	}))

	r := NewRunner(api.KindDownload, WithHTTPClient(ts.Client()), WithInterval(20*time.Millisecond))
	stream, ok, err := r.Start(context.Background(), Config{URL: ts.URL, Duration: 5 * time.Second})
	require.NoError(t, err)
	require.True(t, ok)

	events := collect(t, stream)
	checkEvents(t, events)

	started := events[0].Started
	assert.Equal(t, ts.URL, started.URL)
	assert.Equal(t, uint64(5000), started.DurationCapMs)
	assert.Zero(t, started.ChunkSizeBytes)

	end := events[len(events)-1]
	require.Equal(t, api.EventFinished, end.Type)
	assert.Equal(t, uint64(size), end.Finished.TotalBytes)
	assert.False(t, end.Finished.Canceled)
	assert.Less(t, end.Finished.ElapsedMs, uint64(5000))

	state := r.State()
	assert.Equal(t, "finished", state.Phase)
	assert.Equal(t, end.Finished, state.Result)
	assert.Equal(t, uint64(size), state.Bytes)
}

func TestDownloadDeadline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throttled download in short mode")
	}

	ts := newServer(t, throttled(50))

	r := NewRunner(api.KindDownload, WithHTTPClient(ts.Client()))
	stream, ok, err := r.Start(context.Background(), Config{URL: ts.URL, Duration: 2 * time.Second})
	require.NoError(t, err)
	require.True(t, ok)

	events := collect(t, stream)
	checkEvents(t, events)

	// 250ms samples over 2s
	progress := count(events, api.EventProgress)
	assert.GreaterOrEqual(t, progress, 6)
	assert.LessOrEqual(t, progress, 8)

	end := events[len(events)-1]
	require.Equal(t, api.EventFinished, end.Type)
	assert.False(t, end.Finished.Canceled)
	assert.GreaterOrEqual(t, end.Finished.ElapsedMs, uint64(2000))
	assert.LessOrEqual(t, end.Finished.ElapsedMs, uint64(2000+DefaultInterval.Milliseconds()))
	assert.InEpsilon(t, 50, end.Finished.AvgMbps, 0.4)
}

func TestDownloadErrors(t *testing.T) {
	cases := map[string]struct {
		url     func(t *testing.T) string
		message string
	}{
		"unreachable": {
			url:     unreachable,
			message: "connection refused",
		},
		"status": {
			url: func(t *testing.T) string {
				return newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "no capacity", http.StatusServiceUnavailable)
				})).URL
			},
			message: "503 Service Unavailable: no capacity",
		},
		"disconnect": {
			url: func(t *testing.T) string {
				return newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Length", "10000000")
					w.Write(make([]byte, 64*1024))
					w.(http.Flusher).Flush()
					panic(http.ErrAbortHandler)
				})).URL
			},
			message: "unexpected EOF",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewRunner(api.KindDownload)
			stream, ok, err := r.Start(context.Background(), Config{URL: tc.url(t), Duration: 5 * time.Second})
			require.NoError(t, err)
			require.True(t, ok)

			events := collect(t, stream)
			checkEvents(t, events)

			end := events[len(events)-1]
			require.Equal(t, api.EventError, end.Type)
			assert.Contains(t, end.Error.Message, tc.message)
			assert.Zero(t, count(events, api.EventFinished))

			state := r.State()
			assert.Equal(t, "error", state.Phase)
			assert.Nil(t, state.Result)
			assert.Zero(t, state.Bytes)
			assert.Contains(t, state.Error, tc.message)
		})
	}
}

func TestDownloadUnreachableEmitsNoProgress(t *testing.T) {
	r := NewRunner(api.KindDownload)
	stream, _, err := r.Start(context.Background(), Config{URL: unreachable(t)})
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, api.EventStarted, events[0].Type)
	assert.Equal(t, api.EventError, events[1].Type)
	assert.NotEmpty(t, events[1].Error.Message)
}

func TestDownloadTimeout(t *testing.T) {
	cases := map[string]func(t *testing.T) (*http.Client, string){
		"dial": func(t *testing.T) (*http.Client, string) {
			return blackhole(t), "http://192.0.2.1/__down"
		},
		"no headers": func(t *testing.T) (*http.Client, string) {
			ts := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}))
			return ts.Client(), ts.URL
		},
		"no reader": func(t *testing.T) (*http.Client, string) {
			return silent(t), "http://192.0.2.1/__down"
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			client, url := setup(t)

			const limit = 300 * time.Millisecond
			r := NewRunner(api.KindDownload, WithHTTPClient(client), WithInterval(20*time.Millisecond))

			start := time.Now()
			stream, ok, err := r.Start(context.Background(), Config{URL: url, Duration: limit})
			require.NoError(t, err)
			require.True(t, ok)

			events := collect(t, stream)
			checkTimeout(t, r, events, limit, time.Since(start))
			assert.Contains(t, events[1].Error.Message, "GET "+url)
		})
	}
}
