package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration // stored as a string, validated with time.ParseDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SQLDRAFT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SQLDRAFT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "gemini.api_key", typ: kString, env: "SQLDRAFT_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "SQLDRAFT_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.base_url", typ: kString, env: "SQLDRAFT_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "drafting.dialect", typ: kString, env: "SQLDRAFT_DRAFTING_DIALECT",
		apply:   func(cfg *Config, v any) { cfg.Drafting.Dialect = v.(string) },
		extract: func(cfg Config) any { return cfg.Drafting.Dialect },
	},
	{
		key: "drafting.sample_rows", typ: kInt, env: "SQLDRAFT_DRAFTING_SAMPLE_ROWS",
		apply:   func(cfg *Config, v any) { cfg.Drafting.SampleRows = v.(int) },
		extract: func(cfg Config) any { return cfg.Drafting.SampleRows },
	},
	{
		key: "drafting.timeout", typ: kDuration, env: "SQLDRAFT_DRAFTING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Drafting.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Drafting.Timeout },
	},
	{
		key: "drafting.lookup_concurrency", typ: kInt, env: "SQLDRAFT_DRAFTING_LOOKUP_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Drafting.LookupConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Drafting.LookupConcurrency },
	},
	{
		key: "publish.poll_interval", typ: kDuration, env: "SQLDRAFT_PUBLISH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Publish.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Publish.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "SQLDRAFT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if _, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, raw)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
