package speedtest

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/jmorganca/speedtest/version"
)

var userAgent = fmt.Sprintf("speedtest/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version())

// NewHTTPClient returns the client used for transfers. It sets no overall
// timeout since every session is bounded by its own deadline, and disables
// transparent compression so counted bytes are the bytes on the wire.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
			DisableCompression:    true,
		},
	}
}

func success(resp *http.Response) bool {
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}
