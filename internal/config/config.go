package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Watch   WatchConfig
	Storage StorageConfig
	User    UserConfig
	Sync    SyncConfig
	Server  ServerConfig
	Log     LogConfig
}

type WatchConfig struct {
	Dir          string
	PollInterval string
}

type StorageConfig struct {
	DataDir string
}

type UserConfig struct {
	Name string
}

type SyncConfig struct {
	BaseURL   string
	APIKey    string
	BatchSize int
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

// Interval parses the poll interval, falling back to 5s when unset or
// unparseable.
func (w WatchConfig) Interval() time.Duration {
	d, err := time.ParseDuration(w.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Configured reports whether remote sync has both a base URL and an API key.
func (s SyncConfig) Configured() bool {
	return s.BaseURL != "" && s.APIKey != ""
}

func defaults() Config {
	return Config{
		Watch: WatchConfig{
			Dir:          defaultWatchDir(),
			PollInterval: "5s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		User: UserConfig{
			Name: currentUserName(),
		},
		Sync: SyncConfig{
			BaseURL:   "https://vibecheck.wanderingstan.com/api",
			BatchSize: 50,
		},
		Server: ServerConfig{
			Port: 4600,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultWatchDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".claude", "projects")
	}
	return filepath.Join(".claude", "projects")
}

func currentUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.vibewatch.app) and the
// API key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/vibewatch/config.json
// and the API key falls back to the secrets file in the data dir.
//
// Environment variables (VIBEWATCH_*) override backend values on all
// platforms. A missing API key is not an error: the daemon runs with sync
// idle until credentials appear.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Sync.APIKey == "" {
		if key, err := kc.Get("vibewatch", "api_key"); err == nil && key != "" {
			cfg.Sync.APIKey = key
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
