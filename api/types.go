package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind selects the direction of a throughput test.
type Kind string

const (
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

func (k Kind) Valid() bool {
	return k == KindDownload || k == KindUpload
}

// ParseKind accepts the kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown test kind %q", s)
	}

	return k, nil
}

type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventFinished EventType = "finished"
	EventError    EventType = "error"
)

// Event is a single lifecycle notification of a test session. Exactly one
// of the payload fields is set, matching Type.
type Event struct {
	Type    EventType `json:"type"`
	Kind    Kind      `json:"kind"`
	Session string    `json:"session,omitempty"`

	Started  *StartedEvent  `json:"started,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Finished *Result        `json:"finished,omitempty"`
	Error    *ErrorEvent    `json:"error,omitempty"`
}

// Terminal reports whether no further events follow e in its session.
func (e Event) Terminal() bool {
	return e.Type == EventFinished || e.Type == EventError
}

type StartedEvent struct {
	URL            string `json:"url"`
	DurationCapMs  uint64 `json:"duration_cap_ms"`
	ChunkSizeBytes uint64 `json:"chunk_size_bytes,omitempty"`
}

// ProgressEvent is a periodic sample. InstantaneousMbps is the cumulative
// average since the start of the session; WindowMbps covers only the most
// recent samples.
type ProgressEvent struct {
	ElapsedMs         uint64  `json:"elapsed_ms"`
	BytesTransferred  uint64  `json:"bytes_transferred"`
	InstantaneousMbps float64 `json:"instantaneous_mbps"`
	WindowMbps        float64 `json:"window_mbps"`
}

type Result struct {
	ElapsedMs  uint64  `json:"elapsed_ms"`
	TotalBytes uint64  `json:"total_bytes"`
	AvgMbps    float64 `json:"avg_mbps"`
	Canceled   bool    `json:"canceled,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// TestRequest asks a server to run a test from its side of the network.
// Zero values select the server defaults.
type TestRequest struct {
	URL            string `json:"url"`
	DurationCapMs  uint64 `json:"duration_cap_ms,omitempty"`
	ChunkSizeBytes uint64 `json:"chunk_size_bytes,omitempty"`
	ByteCap        uint64 `json:"byte_cap,omitempty"`
}

type KindRequest struct {
	Kind Kind `json:"kind"`
}

// State is a snapshot of one runner.
type State struct {
	Kind      Kind    `json:"kind"`
	Phase     string  `json:"phase"`
	Session   string  `json:"session,omitempty"`
	ElapsedMs uint64  `json:"elapsed_ms"`
	Bytes     uint64  `json:"bytes"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type StateResponse struct {
	Download State `json:"download"`
	Upload   State `json:"upload"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

// UploadResponse is returned by the upload sink endpoint.
type UploadResponse struct {
	Received int64 `json:"received"`
}

// WSCommand is sent by websocket clients to drive the server's engine.
type WSCommand struct {
	Command string `json:"command"`
	Kind    Kind   `json:"kind"`
	TestRequest
}

func (e Event) String() string {
	bts, err := json.Marshal(e)
	if err != nil {
		return string(e.Type)
	}

	return string(bts)
}
