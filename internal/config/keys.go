package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
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
		key: "watch.dir", typ: kString, env: "VIBEWATCH_WATCH_DIR",
		apply:   func(cfg *Config, v any) { cfg.Watch.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Watch.Dir },
	},
	{
		key: "watch.poll_interval", typ: kString, env: "VIBEWATCH_WATCH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Watch.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Watch.PollInterval },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VIBEWATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "user.name", typ: kString, env: "VIBEWATCH_USER_NAME",
		apply:   func(cfg *Config, v any) { cfg.User.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.User.Name },
	},
	{
		key: "sync.base_url", typ: kString, env: "VIBEWATCH_SYNC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Sync.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.BaseURL },
	},
	{
		key: "sync.api_key", typ: kString, env: "VIBEWATCH_SYNC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Sync.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.APIKey },
	},
	{
		key: "sync.batch_size", typ: kInt, env: "VIBEWATCH_SYNC_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Sync.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.BatchSize },
	},
	{
		key: "server.port", typ: kInt, env: "VIBEWATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "VIBEWATCH_LOG_LEVEL",
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
		case kString:
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
		}
	}
}
