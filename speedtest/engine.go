package speedtest

import (
	"context"
	"fmt"

	"github.com/jmorganca/speedtest/api"
)

// Engine holds one Runner per test kind. Download and upload sessions are
// independent and may run at the same time.
type Engine struct {
	download *Runner
	upload   *Runner
}

func New(opts ...Option) *Engine {
	return &Engine{
		download: NewRunner(api.KindDownload, opts...),
		upload:   NewRunner(api.KindUpload, opts...),
	}
}

// Runner returns the runner for kind, or nil for an unknown kind.
func (e *Engine) Runner(kind api.Kind) *Runner {
	switch kind {
	case api.KindDownload:
		return e.download
	case api.KindUpload:
		return e.upload
	default:
		return nil
	}
}

func (e *Engine) runner(kind api.Kind) (*Runner, error) {
	r := e.Runner(kind)
	if r == nil {
		return nil, &ConfigError{Field: "kind", Reason: fmt.Sprintf("unknown test kind %q", kind)}
	}

	return r, nil
}

func (e *Engine) Start(ctx context.Context, kind api.Kind, cfg Config) (*Stream, bool, error) {
	r, err := e.runner(kind)
	if err != nil {
		return nil, false, err
	}

	return r.Start(ctx, cfg)
}

func (e *Engine) StartDownloadTest(ctx context.Context, url string, durationCapMs uint64) (*Stream, bool, error) {
	return e.download.Start(ctx, Config{
		URL:      url,
		Duration: durationFromMs(durationCapMs),
	})
}

func (e *Engine) StartUploadTest(ctx context.Context, url string, durationCapMs, chunkSizeBytes uint64) (*Stream, bool, error) {
	return e.upload.Start(ctx, Config{
		URL:       url,
		Duration:  durationFromMs(durationCapMs),
		ChunkSize: saturate(chunkSizeBytes),
	})
}

func (e *Engine) Cancel(kind api.Kind) error {
	r, err := e.runner(kind)
	if err != nil {
		return err
	}

	r.Cancel()
	return nil
}

func (e *Engine) Reset(kind api.Kind) error {
	r, err := e.runner(kind)
	if err != nil {
		return err
	}

	r.Reset()
	return nil
}

// State returns a snapshot of the runner for kind.
func (e *Engine) State(kind api.Kind) (api.State, error) {
	r, err := e.runner(kind)
	if err != nil {
		return api.State{}, err
	}

	return r.State(), nil
}

func (e *Engine) States() api.StateResponse {
	return api.StateResponse{
		Download: e.download.State(),
		Upload:   e.upload.State(),
	}
}

// Shutdown cancels any running session and waits for both runners.
func (e *Engine) Shutdown() {
	for _, r := range []*Runner{e.download, e.upload} {
		r.Cancel()
		r.Wait()
	}
}
