package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"

	"github.com/jmorganca/speedtest/envconfig"
	"github.com/jmorganca/speedtest/format"
	"github.com/jmorganca/speedtest/version"
)

// Client talks to a speedtest server. Use ClientFromEnvironment unless the
// base URL and transport need to be chosen explicitly.
type Client struct {
	base *url.URL
	http *http.Client
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode}

	err := json.Unmarshal(body, &apiError)
	if err != nil {
		// Use the full body as the message if we fail to decode a response.
		apiError.ErrorMessage = string(body)
	}

	return apiError
}

// ClientFromEnvironment creates a client pointed at SPEEDTEST_HOST.
func ClientFromEnvironment() (*Client, error) {
	return &Client{
		base: envconfig.Host(),
		http: http.DefaultClient,
	}, nil
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{
		base: base,
		http: http,
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var reqBody io.Reader
	var data []byte
	var err error

	switch reqData := reqData.(type) {
	case io.Reader:
		// reqData is already an io.Reader
		reqBody = reqData
	case nil:
		// noop
	default:
		data, err = json.Marshal(reqData)
		if err != nil {
			return err
		}

		reqBody = bytes.NewReader(data)
	}

	requestURL := c.base.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), reqBody)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("speedtest/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	respObj, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer respObj.Body.Close()

	respBody, err := io.ReadAll(respObj.Body)
	if err != nil {
		return err
	}

	if err := checkError(respObj, respBody); err != nil {
		return err
	}

	if len(respBody) > 0 && respData != nil {
		if err := json.Unmarshal(respBody, respData); err != nil {
			return err
		}
	}
	return nil
}

const maxBufferSize = 512 * format.KiloByte

func (c *Client) stream(ctx context.Context, method, path string, data any, fn func([]byte) error) error {
	var buf io.Reader
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return err
		}

		buf = bytes.NewBuffer(bts)
	}

	requestURL := c.base.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/x-ndjson")
	request.Header.Set("User-Agent", fmt.Sprintf("speedtest/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	// increase the buffer size to avoid running out of space
	scanBuf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(scanBuf, maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error json.RawMessage `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}

		// a streamed Event carries its error as an object, so only a
		// top-level string is treated as a request failure
		var message string
		if len(errorResponse.Error) > 0 && errorResponse.Error[0] == '"' {
			if err := json.Unmarshal(errorResponse.Error, &message); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
		}

		if response.StatusCode >= http.StatusBadRequest {
			return StatusError{
				StatusCode:   response.StatusCode,
				Status:       response.Status,
				ErrorMessage: message,
			}
		}

		if message != "" {
			return errors.New(message)
		}

		if err := fn(bts); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if response.StatusCode >= http.StatusBadRequest {
		return StatusError{StatusCode: response.StatusCode, Status: response.Status}
	}

	return nil
}

// EventFunc is called for every event of a streamed test, in order.
type EventFunc func(Event) error

func (c *Client) runTest(ctx context.Context, path string, req *TestRequest, fn EventFunc) error {
	return c.stream(ctx, http.MethodPost, path, req, func(bts []byte) error {
		var ev Event
		if err := json.Unmarshal(bts, &ev); err != nil {
			return err
		}

		return fn(ev)
	})
}

// Download runs a download test on the server and streams its events.
func (c *Client) Download(ctx context.Context, req *TestRequest, fn EventFunc) error {
	return c.runTest(ctx, "/api/download", req, fn)
}

// Upload runs an upload test on the server and streams its events.
func (c *Client) Upload(ctx context.Context, req *TestRequest, fn EventFunc) error {
	return c.runTest(ctx, "/api/upload", req, fn)
}

func (c *Client) Cancel(ctx context.Context, kind Kind) error {
	return c.do(ctx, http.MethodPost, "/api/cancel", &KindRequest{Kind: kind}, nil)
}

func (c *Client) Reset(ctx context.Context, kind Kind) error {
	return c.do(ctx, http.MethodPost, "/api/reset", &KindRequest{Kind: kind}, nil)
}

func (c *Client) State(ctx context.Context) (*StateResponse, error) {
	var resp StateResponse
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var version VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}

// Heartbeat checks if the server is reachable.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, http.MethodHead, "/", nil, nil); err != nil {
		return err
	}
	return nil
}
