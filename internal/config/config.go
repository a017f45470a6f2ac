package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Gemini   GeminiConfig
	Drafting DraftingConfig
	Publish  PublishConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type DraftingConfig struct {
	Dialect           string
	SampleRows        int
	Timeout           string
	LookupConcurrency int
}

type PublishConfig struct {
	PollInterval string
}

type LogConfig struct {
	Level string
}

// TablesDir is where the survey table catalog lives.
func (c Config) TablesDir() string { return filepath.Join(c.Storage.DataDir, "tables") }

// DictionaryDir holds the per-year {year}_datadict.csv files.
func (c Config) DictionaryDir() string { return filepath.Join(c.Storage.DataDir, "datadicts") }

// DraftTimeout parses Drafting.Timeout, returning 0 (the drafter default) when unset.
func (c Config) DraftTimeout() (time.Duration, error) {
	return parseDuration("drafting.timeout", c.Drafting.Timeout)
}

// PollInterval parses Publish.PollInterval, returning 0 when unset.
func (c Config) PollInterval() (time.Duration, error) {
	return parseDuration("publish.poll_interval", c.Publish.PollInterval)
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration for %s: must not be negative", key)
	}
	return d, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Drafting: DraftingConfig{
			Dialect:    "DuckDB",
			SampleRows: 5,
			Timeout:    "60s",
		},
		Publish: PublishConfig{
			PollInterval: "1s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.sqldraft.app) and the
// Gemini key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/sqldraft/config.json
// and the key falls back to $XDG_DATA_HOME/sqldraft/secrets.json.
//
// Environment variables (SQLDRAFT_*) override backend values on all platforms.
// A missing Gemini key is not an error: requests may carry their own.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// SecretReader abstracts secret store reads for testing.
type SecretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc SecretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get(keychainService, geminiKeyAccount); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}
	cfg.Gemini.APIKey = strings.TrimSpace(cfg.Gemini.APIKey)

	if _, err := cfg.DraftTimeout(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.PollInterval(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MissingKeyHint tells the user where a Gemini key can be configured.
func MissingKeyHint() string {
	return "set SQLDRAFT_GEMINI_API_KEY" + apiKeyHint() + ", or pass --api-key"
}
