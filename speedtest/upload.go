package speedtest

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// upload streams ChunkSize buffers as the body of a single POST. A chunk
// counts once the transport has consumed it. The body ends when the byte
// cap is reached, after which the response is awaited; cancelling ctx
// aborts the request.
func (r *Runner) upload(ctx context.Context, s *session) error {
	chunk := make([]byte, s.cfg.ChunkSize)
	if _, err := rand.Read(chunk); err != nil {
		return err
	}

	pr, pw := io.Pipe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.generate(ctx, s, pw, chunk)
		pw.CloseWithError(err)
		return err
	})

	g.Go(func() error {
		defer pr.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, &bodyReader{PipeReader: pr, s: s})
		if err != nil {
			return &TransportError{Op: "POST", URL: s.cfg.URL, Err: err}
		}

		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := r.client.Do(req)
		if err != nil {
			return &TransportError{Op: "POST", URL: s.cfg.URL, Err: err}
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if !success(resp) {
			return &TransportError{
				Op:         "POST",
				URL:        s.cfg.URL,
				StatusCode: resp.StatusCode,
				Err:        statusError(resp, body),
			}
		}

		return nil
	})

	return g.Wait()
}

// generate writes chunks into w until the byte cap is reached. A closed
// pipe means the request side has stopped reading and reports its own
// error, so it is not treated as a failure here.
func (r *Runner) generate(ctx context.Context, s *session, w io.Writer, chunk []byte) error {
	for sent := int64(0); sent < s.cfg.ByteCap; {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n := min(int64(len(chunk)), s.cfg.ByteCap-sent)
		written, err := w.Write(chunk[:n])
		sent += int64(written)
		s.bytes.Add(int64(written))
		if errors.Is(err, io.ErrClosedPipe) {
			return nil
		} else if err != nil {
			return err
		}
	}

	return nil
}

// bodyReader marks the session connected once the transport starts
// consuming the request body.
type bodyReader struct {
	*io.PipeReader
	s *session
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.PipeReader.Read(p)
	if n > 0 {
		b.s.connected.Store(true)
	}
	return n, err
}
