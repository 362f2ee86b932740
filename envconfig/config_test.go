package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/speedtest/logutil"
)

// isolate points the config file lookup at an empty home directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for key := range AsMap() {
		t.Setenv(key, "")
	}
	configOnce = sync.Once{}
	config, configPath = nil, ""
	t.Cleanup(func() {
		configOnce = sync.Once{}
		config, configPath = nil, ""
	})
	return home
}

func TestConfig(t *testing.T) {
	isolate(t)

	t.Setenv("SPEEDTEST_DEBUG", "")
	LoadConfig()
	require.False(t, Debug)
	require.Equal(t, slog.LevelInfo, LogLevel)

	t.Setenv("SPEEDTEST_DEBUG", "false")
	LoadConfig()
	require.False(t, Debug)

	t.Setenv("SPEEDTEST_DEBUG", "1")
	LoadConfig()
	require.True(t, Debug)
	require.Equal(t, slog.LevelDebug, LogLevel)

	t.Setenv("SPEEDTEST_DEBUG", "2")
	LoadConfig()
	require.True(t, Debug)
	require.Equal(t, logutil.LevelTrace, LogLevel)
}

func TestTestDefaults(t *testing.T) {
	isolate(t)
	LoadConfig()

	assert.Equal(t, DefaultDownloadURL, DownloadURL)
	assert.Equal(t, DefaultUploadURL, UploadURL)
	assert.Equal(t, 10*time.Second, Duration)
	assert.Equal(t, int64(262144), ChunkSize)
	assert.Equal(t, int64(200*1024*1024), ByteCap)
}

func TestTestOverrides(t *testing.T) {
	isolate(t)

	cases := map[string]struct {
		duration  string
		chunk     string
		expectDur time.Duration
		expectChk int64
	}{
		"go duration":      {duration: "15s", chunk: "1024", expectDur: 15 * time.Second, expectChk: 1024},
		"bare seconds":     {duration: "3", chunk: "'4096'", expectDur: 3 * time.Second, expectChk: 4096},
		"fractional":       {duration: "0.5", chunk: "", expectDur: 500 * time.Millisecond, expectChk: DefaultChunkSize},
		"invalid fallback": {duration: "soon", chunk: "-5", expectDur: DefaultDuration, expectChk: DefaultChunkSize},
		"zero fallback":    {duration: "0s", chunk: "0", expectDur: DefaultDuration, expectChk: DefaultChunkSize},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SPEEDTEST_DURATION", tc.duration)
			t.Setenv("SPEEDTEST_CHUNK_SIZE", tc.chunk)
			LoadConfig()
			assert.Equal(t, tc.expectDur, Duration)
			assert.Equal(t, tc.expectChk, ChunkSize)
		})
	}
}

func TestConfigFile(t *testing.T) {
	home := isolate(t)

	dir := filepath.Join(home, ".speedtest")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[server]
host = "10.0.0.2:9000"

[test]
upload_url = "http://10.0.0.2:9000/__up"
duration = "4s"
byte_cap = 1048576
`), 0o644))

	t.Setenv("SPEEDTEST_DURATION", "")
	t.Setenv("SPEEDTEST_UPLOAD_URL", "")
	LoadConfig()

	assert.Equal(t, filepath.Join(dir, "config.toml"), ConfigPath())
	assert.Equal(t, "http://10.0.0.2:9000/__up", UploadURL)
	assert.Equal(t, 4*time.Second, Duration)
	assert.Equal(t, int64(1048576), ByteCap)
	assert.Equal(t, "10.0.0.2:9000", Host().Host)

	// the environment wins over the file
	t.Setenv("SPEEDTEST_DURATION", "2s")
	LoadConfig()
	assert.Equal(t, 2*time.Second, Duration)
}

func TestParseHost(t *testing.T) {
	type testCase struct {
		value  string
		expect string
		err    error
	}

	hostTestCases := map[string]*testCase{
		"empty":               {value: "", expect: "http://127.0.0.1:8478"},
		"only address":        {value: "1.2.3.4", expect: "http://1.2.3.4:8478"},
		"only port":           {value: ":1234", expect: "http://:1234"},
		"address and port":    {value: "1.2.3.4:1234", expect: "http://1.2.3.4:1234"},
		"hostname":            {value: "example.com", expect: "http://example.com:8478"},
		"hostname and port":   {value: "example.com:1234", expect: "http://example.com:1234"},
		"scheme https":        {value: "https://example.com", expect: "https://example.com:443"},
		"scheme http":         {value: "http://example.com", expect: "http://example.com:80"},
		"zero port":           {value: ":0", expect: "http://:0"},
		"too large port":      {value: ":66000", err: ErrInvalidHostPort},
		"too small port":      {value: ":-1", err: ErrInvalidHostPort},
		"ipv6 localhost":      {value: "[::1]", expect: "http://[::1]:8478"},
		"ipv6 no brackets":    {value: "::1", expect: "http://[::1]:8478"},
		"ipv6 + port":         {value: "[::1]:1337", expect: "http://[::1]:1337"},
		"extra space":         {value: " 1.2.3.4 ", expect: "http://1.2.3.4:8478"},
		"extra quotes":        {value: "\"1.2.3.4\"", expect: "http://1.2.3.4:8478"},
		"extra single quotes": {value: "'1.2.3.4'", expect: "http://1.2.3.4:8478"},
		"path":                {value: "example.com:1234/speed", expect: "http://example.com:1234/speed"},
	}

	for k, v := range hostTestCases {
		t.Run(k, func(t *testing.T) {
			u, err := ParseHost(v.value)
			if err != v.err {
				t.Fatalf("expected %s, got %s", v.err, err)
			}

			if err == nil {
				assert.Equal(t, v.expect, u.String(), fmt.Sprintf("%s: expected %s, got %s", k, v.expect, u.String()))
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	isolate(t)

	t.Setenv("SPEEDTEST_ORIGINS", "http://10.0.0.1,app://speedtest")
	LoadConfig()

	require.Contains(t, AllowOrigins, "http://10.0.0.1")
	require.Contains(t, AllowOrigins, "app://speedtest")
	require.Contains(t, AllowOrigins, "http://localhost:*")
}
