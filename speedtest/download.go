package speedtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const readBufferSize = 64 * 1024

// download streams the body of a GET into the session counter until the
// body ends or ctx is done. Cancelling ctx abandons the in-flight read.
func (r *Runner) download(ctx context.Context, s *session) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return &TransportError{Op: "GET", URL: s.cfg.URL, Err: err}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := r.client.Do(req)
	if err != nil {
		return &TransportError{Op: "GET", URL: s.cfg.URL, Err: err}
	}
	defer resp.Body.Close()

	if !success(resp) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{
			Op:         "GET",
			URL:        s.cfg.URL,
			StatusCode: resp.StatusCode,
			Err:        statusError(resp, body),
		}
	}

	s.connected.Store(true)

	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		s.bytes.Add(int64(n))

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return &TransportError{Op: "read", URL: s.cfg.URL, Err: err}
		}
	}
}

func statusError(resp *http.Response, body []byte) error {
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("%s: %s", resp.Status, msg)
	}

	return errors.New(resp.Status)
}
