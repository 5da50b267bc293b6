package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultEndpoint        = "http://127.0.0.1:8123"
	defaultAgentName       = "sample_agent"
	defaultResponseTimeout = 30 * time.Second
	defaultTheme           = "dark"
	defaultLogLevel        = "info"
)

const (
	HistoryMemory = "memory"
	HistoryBolt   = "bbolt"
)

type Config struct {
	Agent    AgentConfig    `toml:"agent" json:"agent"`
	Approval ApprovalConfig `toml:"approval" json:"approval"`
	UI       UIConfig       `toml:"ui" json:"ui"`
	History  HistoryConfig  `toml:"history" json:"history"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	Debug    DebugConfig    `toml:"debug" json:"debug"`
}

type AgentConfig struct {
	Endpoint       string `toml:"endpoint" json:"endpoint"`
	Name           string `toml:"name" json:"name"`
	RequestTimeout string `toml:"request_timeout" json:"request_timeout"`
}

type ApprovalConfig struct {
	ResponseTimeout string `toml:"response_timeout" json:"response_timeout"`
}

type UIConfig struct {
	// DevMode is a pointer so an absent key keeps the default of true.
	DevMode *bool  `toml:"dev_mode" json:"dev_mode,omitempty"`
	Theme   string `toml:"theme" json:"theme"`
}

type HistoryConfig struct {
	Backend string `toml:"backend" json:"backend"`
	Path    string `toml:"path" json:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type DebugConfig struct {
	StreamDebug bool `toml:"stream_debug" json:"stream_debug"`
}

func Default() Config {
	devMode := true
	return Config{
		Agent: AgentConfig{
			Endpoint:       defaultEndpoint,
			Name:           defaultAgentName,
			RequestTimeout: "0s",
		},
		Approval: ApprovalConfig{
			ResponseTimeout: defaultResponseTimeout.String(),
		},
		UI: UIConfig{
			DevMode: &devMode,
			Theme:   defaultTheme,
		},
		History: HistoryConfig{
			Backend: HistoryMemory,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}

// Load reads ~/.chatbi/config.toml over the defaults. A missing or empty
// file yields the defaults.
func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(path)
}

func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) AgentEndpoint() string {
	endpoint := strings.TrimRight(strings.TrimSpace(c.Agent.Endpoint), "/")
	if endpoint == "" {
		return defaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	return endpoint
}

func (c Config) AgentName() string {
	name := strings.Trim(strings.TrimSpace(c.Agent.Name), "/")
	if name == "" {
		return defaultAgentName
	}
	return name
}

// RequestTimeout bounds each agent request. Zero means no timeout, which
// suits long-lived event streams.
func (c Config) RequestTimeout() time.Duration {
	return parseDuration(c.Agent.RequestTimeout, 0)
}

func (c Config) ApprovalResponseTimeout() time.Duration {
	timeout := parseDuration(c.Approval.ResponseTimeout, defaultResponseTimeout)
	if timeout <= 0 {
		return defaultResponseTimeout
	}
	return timeout
}

func (c Config) DevMode() bool {
	if c.UI.DevMode == nil {
		return true
	}
	return *c.UI.DevMode
}

func (c Config) Theme() string {
	switch strings.ToLower(strings.TrimSpace(c.UI.Theme)) {
	case "light":
		return "light"
	default:
		return defaultTheme
	}
}

func (c Config) HistoryBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.History.Backend)) {
	case HistoryBolt, "bolt":
		return HistoryBolt
	default:
		return HistoryMemory
	}
}

func (c Config) ResolveHistoryPath() (string, error) {
	path := strings.TrimSpace(c.History.Path)
	if path == "" {
		return HistoryPath()
	}
	return resolveConfigPath(path)
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return defaultLogLevel
	}
	return level
}

func (c Config) StreamDebugEnabled() bool {
	return c.Debug.StreamDebug
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}
