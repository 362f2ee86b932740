package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmorganca/speedtest/logutil"
)

const (
	defaultPort = "8478"

	DefaultDuration  = 10 * time.Second
	DefaultChunkSize = 256 * 1024
	DefaultByteCap   = 200 * 1024 * 1024

	DefaultDownloadURL = "https://speed.cloudflare.com/__down?bytes=1000000000"
	DefaultUploadURL   = "https://speed.cloudflare.com/__up"
)

var ErrInvalidHostPort = errors.New("invalid port specified in SPEEDTEST_HOST")

var (
	// Set via SPEEDTEST_ORIGINS in the environment
	AllowOrigins []string
	// Set via SPEEDTEST_DEBUG in the environment
	Debug bool
	// Derived from SPEEDTEST_DEBUG; 2 or higher enables trace logging
	LogLevel slog.Level
	// Set via SPEEDTEST_DOWNLOAD_URL in the environment
	DownloadURL string
	// Set via SPEEDTEST_UPLOAD_URL in the environment
	UploadURL string
	// Set via SPEEDTEST_DURATION in the environment
	Duration time.Duration
	// Set via SPEEDTEST_CHUNK_SIZE in the environment
	ChunkSize int64
	// Set via SPEEDTEST_BYTE_CAP in the environment
	ByteCap int64
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"SPEEDTEST_DEBUG":        {"SPEEDTEST_DEBUG", Debug, "Show additional debug information (e.g. SPEEDTEST_DEBUG=1, 2 for trace)"},
		"SPEEDTEST_HOST":         {"SPEEDTEST_HOST", Host(), "Address of the speedtest server (default 127.0.0.1:8478)"},
		"SPEEDTEST_ORIGINS":      {"SPEEDTEST_ORIGINS", AllowOrigins, "A comma separated list of allowed origins"},
		"SPEEDTEST_DOWNLOAD_URL": {"SPEEDTEST_DOWNLOAD_URL", DownloadURL, "Default URL streamed by download tests"},
		"SPEEDTEST_UPLOAD_URL":   {"SPEEDTEST_UPLOAD_URL", UploadURL, "Default URL posted to by upload tests"},
		"SPEEDTEST_DURATION":     {"SPEEDTEST_DURATION", Duration, "Maximum duration of a test (default 10s)"},
		"SPEEDTEST_CHUNK_SIZE":   {"SPEEDTEST_CHUNK_SIZE", ChunkSize, "Upload chunk size in bytes (default 262144)"},
		"SPEEDTEST_BYTE_CAP":     {"SPEEDTEST_BYTE_CAP", ByteCap, "Maximum bytes sent by an upload test (default 209715200)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

var defaultAllowOrigins = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

// Var returns the environment value of key, falling back to the config file.
func Var(key string) string {
	if v := clean(key); v != "" {
		return v
	}

	return strings.Trim(GetConfigValue(key), "\"' ")
}

// Host returns the scheme and host of the speedtest server. Invalid values
// fall back to the default address.
func Host() *url.URL {
	u, err := ParseHost(Var("SPEEDTEST_HOST"))
	if err != nil {
		slog.Warn("invalid SPEEDTEST_HOST, using default", "error", err)
		u, _ = ParseHost("")
	}

	return u
}

// ParseHost accepts "host", "host:port", ":port" and "scheme://host:port"
// forms and fills in defaults for the missing parts.
func ParseHost(s string) (*url.URL, error) {
	port := defaultPort
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'"))

	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		port = "80"
	case scheme == "https":
		port = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		host = "127.0.0.1"
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	} else {
		port = p
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		return nil, ErrInvalidHostPort
	}

	u := &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port)}
	if path != "" {
		u.Path = "/" + path
	}

	return u, nil
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = false
	LogLevel = slog.LevelInfo
	if debug := Var("SPEEDTEST_DEBUG"); debug != "" {
		if n, err := strconv.Atoi(debug); err == nil {
			Debug = n > 0
			if n > 1 {
				LogLevel = logutil.LevelTrace
			} else if n == 1 {
				LogLevel = slog.LevelDebug
			}
		} else if d, err := strconv.ParseBool(debug); err == nil {
			Debug = d
			if d {
				LogLevel = slog.LevelDebug
			}
		} else {
			Debug = true
			LogLevel = slog.LevelDebug
		}
	}

	AllowOrigins = nil
	if origins := Var("SPEEDTEST_ORIGINS"); origins != "" {
		AllowOrigins = strings.Split(origins, ",")
	}
	for _, allowOrigin := range defaultAllowOrigins {
		AllowOrigins = append(AllowOrigins,
			fmt.Sprintf("http://%s", allowOrigin),
			fmt.Sprintf("https://%s", allowOrigin),
			fmt.Sprintf("http://%s:*", allowOrigin),
			fmt.Sprintf("https://%s:*", allowOrigin),
		)
	}

	DownloadURL = DefaultDownloadURL
	if u := Var("SPEEDTEST_DOWNLOAD_URL"); u != "" {
		DownloadURL = u
	}

	UploadURL = DefaultUploadURL
	if u := Var("SPEEDTEST_UPLOAD_URL"); u != "" {
		UploadURL = u
	}

	Duration = DefaultDuration
	if s := Var("SPEEDTEST_DURATION"); s != "" {
		d, err := parseDuration(s)
		if err != nil {
			slog.Error("invalid setting, ignoring", "SPEEDTEST_DURATION", s, "error", err)
		} else {
			Duration = d
		}
	}

	ChunkSize = loadSize("SPEEDTEST_CHUNK_SIZE", DefaultChunkSize)
	ByteCap = loadSize("SPEEDTEST_BYTE_CAP", DefaultByteCap)
}

// parseDuration accepts Go durations ("15s", "1m") or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		n, nerr := strconv.ParseFloat(s, 64)
		if nerr != nil {
			return 0, err
		}
		d = time.Duration(n * float64(time.Second))
	}

	if d <= 0 {
		return 0, fmt.Errorf("duration must be greater than zero")
	}

	return d, nil
}

func loadSize(key string, fallback int64) int64 {
	s := Var(key)
	if s == "" {
		return fallback
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		slog.Error("invalid setting must be greater than zero", key, s, "error", err)
		return fallback
	}

	return n
}
