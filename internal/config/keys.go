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
		key: "server.port", typ: kInt, env: "KHANFLOW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "KHANFLOW_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.extract_model", typ: kString, env: "KHANFLOW_OLLAMA_EXTRACT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ExtractModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ExtractModel },
	},
	{
		key: "transcribe.base_url", typ: kString, env: "KHANFLOW_TRANSCRIBE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.BaseURL },
	},
	{
		key: "transcribe.api_key", typ: kString, env: "KHANFLOW_TRANSCRIBE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Transcribe.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.APIKey },
	},
	{
		key: "transcribe.model", typ: kString, env: "KHANFLOW_TRANSCRIBE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.Model },
	},
	{
		key: "provider.base_url", typ: kString, env: "KHANFLOW_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.token", typ: kString, env: "KHANFLOW_PROVIDER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Token },
	},
	{
		key: "provider.calendars", typ: kString, env: "KHANFLOW_PROVIDER_CALENDARS",
		apply:   func(cfg *Config, v any) { cfg.Provider.Calendars = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Calendars },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KHANFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "conversation.idle_timeout", typ: kString, env: "KHANFLOW_CONVERSATION_IDLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Conversation.IdleTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.IdleTimeout },
	},
	{
		key: "conversation.sweep_interval", typ: kString, env: "KHANFLOW_CONVERSATION_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Conversation.SweepInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.SweepInterval },
	},
	{
		key: "log.level", typ: kString, env: "KHANFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
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
