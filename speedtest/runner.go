package speedtest

import (
	"context"
	"errors"
	"log/slog"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmorganca/speedtest/api"
	"github.com/jmorganca/speedtest/logutil"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseFinished
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// windowSamples is the number of trailing samples behind WindowMbps.
const windowSamples = 4

type Option func(*Runner)

// WithHTTPClient replaces the client used for transfers.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		r.client = c
	}
}

// Observer sees every event a runner emits, in order, before the consumer
// does. It is called synchronously and must not block or call back into the
// runner.
type Observer interface {
	Observe(api.Event)
}

// WithObserver adds an observer to every session.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithInterval changes the sampling cadence.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Runner owns the lifecycle of the tests of one kind. At most one session
// runs at a time; all of a session's events are produced by one goroutine.
type Runner struct {
	kind      api.Kind
	client    *http.Client
	interval  time.Duration
	observers []Observer
	transfer  func(context.Context, *session) error

	mu      sync.Mutex
	phase   Phase
	current *session
	result  *api.Result
	err     error
}

type session struct {
	id     string
	kind   api.Kind
	cfg    Config
	start  time.Time
	bytes  Counter
	window *window
	lastMs uint64

	// connected is set once the peer has answered a download or begun
	// consuming an upload body.
	connected atomic.Bool

	stream    *Stream
	observers []Observer
	cancel    context.CancelCauseFunc
	done      chan struct{}
}

func NewRunner(kind api.Kind, opts ...Option) *Runner {
	r := &Runner{
		kind:     kind,
		client:   NewHTTPClient(),
		interval: DefaultInterval,
	}

	for _, opt := range opts {
		opt(r)
	}

	switch kind {
	case api.KindUpload:
		r.transfer = r.upload
	default:
		r.transfer = r.download
	}

	return r
}

func (r *Runner) Kind() api.Kind {
	return r.kind
}

// Start begins a new session and returns its event stream. Invalid
// configurations are rejected with a *ConfigError. Starting while a session
// is running is a no-op: ok is false and the running session is untouched.
// Cancelling ctx cancels the session.
func (r *Runner) Start(ctx context.Context, cfg Config) (stream *Stream, ok bool, err error) {
	cfg, err = cfg.normalize(r.kind)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseRunning {
		slog.Debug("test already running, ignoring start", "kind", r.kind, "session", r.current.id)
		return nil, false, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	s := &session{
		id:        uuid.NewString(),
		kind:      r.kind,
		cfg:       cfg,
		start:     time.Now(),
		window:    newWindow(windowSamples),
		stream:    newStream(),
		observers: r.observers,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.phase = PhaseRunning
	r.current = s
	r.result = nil
	r.err = nil

	s.emit(api.Event{
		Type: api.EventStarted,
		Started: &api.StartedEvent{
			URL:            cfg.URL,
			DurationCapMs:  uint64(cfg.Duration.Milliseconds()),
			ChunkSizeBytes: uint64(cfg.ChunkSize),
		},
	})

	slog.Info("test started", "kind", r.kind, "session", s.id, "url", cfg.URL, "duration", cfg.Duration)
	go r.run(ctx, s)
	return s.stream, true, nil
}

func (r *Runner) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer s.cancel(nil)

	ctx, stop := context.WithDeadlineCause(ctx, s.start.Add(s.cfg.Duration), errDeadline)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- r.transfer(ctx, s)
	}()

	sampler := NewSampler(s.start, r.interval)

	var err error
	transferred := false
loop:
	for {
		select {
		case <-sampler.C():
			r.sample(s, sampler.ElapsedMs())
		case err = <-done:
			transferred = true
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	// stop sampling before anything terminal is emitted
	sampler.Stop()
	elapsedMs := sampler.ElapsedMs()
	bytes := uint64(s.bytes.Load())

	// a transfer that ended on its own keeps its outcome; otherwise the
	// in-flight read or write was abandoned because of the deadline or a
	// cancellation, and any error it returned is a consequence of that.
	// Reaching the deadline before the peer ever answered is a timeout.
	var canceled bool
	if (!transferred || err != nil) && ctx.Err() != nil {
		err = nil
		canceled = !errors.Is(context.Cause(ctx), errDeadline)
		if !canceled && !s.connected.Load() {
			err = s.timeout()
		}
	}

	if err != nil {
		r.fail(s, err)
	} else {
		r.complete(s, &api.Result{
			ElapsedMs:  elapsedMs,
			TotalBytes: bytes,
			AvgMbps:    Mbps(bytes, elapsedMs),
			Canceled:   canceled,
		})
	}

	if !transferred {
		<-done
	}
}

func (r *Runner) sample(s *session, elapsedMs uint64) {
	// nothing to report until the peer answers; elapsed must strictly
	// increase between samples
	if !s.connected.Load() || elapsedMs <= s.lastMs {
		return
	}

	bytes := uint64(s.bytes.Load())
	progress := &api.ProgressEvent{
		ElapsedMs:         elapsedMs,
		BytesTransferred:  bytes,
		InstantaneousMbps: Mbps(bytes, elapsedMs),
		WindowMbps:        s.window.add(elapsedMs, bytes),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s.lastMs = elapsedMs
	logutil.Trace("progress", "kind", s.kind, "session", s.id, "elapsed_ms", elapsedMs, "bytes", bytes, "mbps", progress.InstantaneousMbps)
	s.emit(api.Event{Type: api.EventProgress, Progress: progress})
}

// complete records the result and emits Finished while holding the lock,
// so the phase change and the terminal event are observed together.
func (r *Runner) complete(s *session, result *api.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == s {
		r.phase = PhaseFinished
		r.result = result
	}

	slog.Info("test finished", "kind", s.kind, "session", s.id, "elapsed_ms", result.ElapsedMs, "bytes", result.TotalBytes, "mbps", result.AvgMbps, "canceled", result.Canceled)
	s.finish(api.Event{Type: api.EventFinished, Finished: result})
}

func (r *Runner) fail(s *session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.bytes.Reset()
	if r.current == s {
		r.phase = PhaseError
		r.result = nil
		r.err = err
	}

	slog.Warn("test failed", "kind", s.kind, "session", s.id, "error", err)
	s.finish(api.Event{Type: api.EventError, Error: &api.ErrorEvent{Message: err.Error()}})
}

// Cancel aborts the running session, if any. The session ends with a
// canceled Finished event.
func (r *Runner) Cancel() {
	r.mu.Lock()
	s := r.current
	running := r.phase == PhaseRunning
	r.mu.Unlock()

	if running {
		s.cancel(ErrCanceled)
	}
}

// Reset returns the runner to Idle, discarding counters and any cached
// result or error. A running session is cancelled and awaited first.
func (r *Runner) Reset() {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	if s != nil {
		s.cancel(ErrCanceled)
		<-s.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// a new session may have started while waiting
	if r.current != s {
		return
	}

	r.phase = PhaseIdle
	r.current = nil
	r.result = nil
	r.err = nil
}

// Wait blocks until the current session, if any, has fully wound down.
func (r *Runner) Wait() {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	if s != nil {
		<-s.done
	}
}

// State returns a snapshot of the runner.
func (r *Runner) State() api.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := api.State{
		Kind:   r.kind,
		Phase:  r.phase.String(),
		Result: r.result,
	}

	if r.err != nil {
		state.Error = r.err.Error()
	}

	if s := r.current; s != nil {
		state.Session = s.id
		switch r.phase {
		case PhaseRunning:
			state.ElapsedMs = s.lastMs
			state.Bytes = uint64(s.bytes.Load())
		case PhaseFinished:
			state.ElapsedMs = r.result.ElapsedMs
			state.Bytes = r.result.TotalBytes
		}
	}

	return state
}

func (s *session) timeout() error {
	op := http.MethodGet
	if s.kind == api.KindUpload {
		op = http.MethodPost
	}

	return &TransportError{
		Op:  op,
		URL: s.cfg.URL,
		Err: fmt.Errorf("no response within %s: %w", s.cfg.Duration, context.DeadlineExceeded),
	}
}

func (s *session) emit(ev api.Event) {
	ev.Kind = s.kind
	ev.Session = s.id
	s.observe(ev)
	s.stream.send(ev)
}

func (s *session) finish(ev api.Event) {
	ev.Kind = s.kind
	ev.Session = s.id
	s.observe(ev)
	s.stream.finish(ev)
}

func (s *session) observe(ev api.Event) {
	for _, o := range s.observers {
		o.Observe(ev)
	}
}
