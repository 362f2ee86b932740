package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config represents the TOML configuration structure
type Config struct {
	Server struct {
		Host    string   `toml:"host"`
		Origins []string `toml:"origins"`
	} `toml:"server"`

	Test struct {
		DownloadURL string `toml:"download_url"`
		UploadURL   string `toml:"upload_url"`
		Duration    string `toml:"duration"`
		ChunkSize   int64  `toml:"chunk_size"`
		ByteCap     int64  `toml:"byte_cap"`
	} `toml:"test"`

	Logging struct {
		Debug int `toml:"debug"`
	} `toml:"logging"`
}

var (
	configOnce sync.Once
	config     *Config
	configPath string
)

// GetConfigPaths returns the list of possible config file paths for the current OS
func GetConfigPaths() []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "speedtest", "config.toml"))
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			paths = append(paths, filepath.Join(userProfile, ".speedtest", "config.toml"))
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			paths = append(paths, filepath.Join(xdgConfig, "speedtest", "config.toml"))
		}
		home, err := os.UserHomeDir()
		if err == nil {
			paths = append(paths,
				filepath.Join(home, ".config", "speedtest", "config.toml"),
				filepath.Join(home, ".speedtest", "config.toml"),
			)
		}
		paths = append(paths, "/etc/speedtest/config.toml")
	}

	return paths
}

// loadConfigFile loads the first available configuration file
func loadConfigFile() (*Config, string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		}
	}
	return nil, "", nil
}

// GetConfigValue returns the value for a given environment variable key from the config file
func GetConfigValue(key string) string {
	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfigFile()
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})

	if config == nil {
		return ""
	}

	switch key {
	case "SPEEDTEST_HOST":
		return config.Server.Host
	case "SPEEDTEST_ORIGINS":
		if len(config.Server.Origins) > 0 {
			return strings.Join(config.Server.Origins, ",")
		}
	case "SPEEDTEST_DOWNLOAD_URL":
		return config.Test.DownloadURL
	case "SPEEDTEST_UPLOAD_URL":
		return config.Test.UploadURL
	case "SPEEDTEST_DURATION":
		return config.Test.Duration
	case "SPEEDTEST_CHUNK_SIZE":
		if config.Test.ChunkSize > 0 {
			return fmt.Sprintf("%d", config.Test.ChunkSize)
		}
	case "SPEEDTEST_BYTE_CAP":
		if config.Test.ByteCap > 0 {
			return fmt.Sprintf("%d", config.Test.ByteCap)
		}
	case "SPEEDTEST_DEBUG":
		if config.Logging.Debug > 0 {
			return fmt.Sprintf("%d", config.Logging.Debug)
		}
	}

	return ""
}

// ConfigPath returns the path of the loaded config file, if any.
func ConfigPath() string {
	GetConfigValue("")
	return configPath
}

// GenerateExampleConfig returns a commented example TOML configuration
func GenerateExampleConfig() string {
	return `# speedtest configuration file
# Environment variables (SPEEDTEST_*) take precedence over these values.

[server]
# Address the server listens on and the client connects to (default: "127.0.0.1:8478")
host = "127.0.0.1:8478"
# Additional allowed CORS origins
origins = ["http://localhost:3000"]

[test]
# Endpoint streamed by download tests
download_url = "https://speed.cloudflare.com/__down?bytes=1000000000"
# Endpoint posted to by upload tests
upload_url = "https://speed.cloudflare.com/__up"
# Maximum duration of a single test (default: "10s")
duration = "10s"
# Upload chunk size in bytes (default: 262144)
chunk_size = 262144
# Maximum bytes sent by an upload test (default: 209715200)
byte_cap = 209715200

[logging]
# 1 for debug, 2 for trace (default: 0)
debug = 0
`
}
