package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Ollama       OllamaConfig
	Transcribe   TranscribeConfig
	Provider     ProviderConfig
	Storage      StorageConfig
	Conversation ConversationConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL      string
	ExtractModel string
}

type TranscribeConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type ProviderConfig struct {
	BaseURL   string
	Token     string
	Calendars string // comma-separated calendar ids swept for conflicts
}

type StorageConfig struct {
	DataDir string
}

type ConversationConfig struct {
	IdleTimeout   string // duration, e.g. "30m"
	SweepInterval string // duration, e.g. "1m"
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			ExtractModel: "phi3.5",
		},
		Transcribe: TranscribeConfig{
			BaseURL: "http://localhost:9000",
			Model:   "whisper-1",
		},
		Provider: ProviderConfig{
			BaseURL: "http://localhost:4700",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Conversation: ConversationConfig{
			IdleTimeout:   "30m",
			SweepInterval: "1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "khanflow-data"
		}
	}
	return filepath.Join(dir, "khanflow")
}

// Load reads configuration from a .env file (if present), the JSON config
// file at $XDG_CONFIG_HOME/khanflow/config.json, and environment variables.
// Environment variables (KHANFLOW_*) override file values.
func Load() (Config, error) {
	// Missing .env is the normal case; only explicit values matter.
	_ = godotenv.Load()
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
