package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr   string `env:"STUDYCHAT_ADDR" envDefault:":8080"`
	Path   string `env:"STUDYCHAT_WS_PATH" envDefault:"/ws"`
	DBPath string `env:"STUDYCHAT_DB_PATH"`

	// Primary assistant provider, an OpenAI-compatible chat endpoint.
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	// Fallback provider, consulted only when the primary fails.
	GroqAPIKey  string `env:"GROQ_API_KEY"`
	GroqBaseURL string `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	GroqModel   string `env:"GROQ_MODEL" envDefault:"llama-3.1-8b-instant"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string `env:"STUDYCHAT_SERVER_URL" envDefault:"ws://localhost:8080/ws"`
	UserName  string `env:"STUDYCHAT_USER"`
	RoomID    string
	// RedisAddr enables the keyspace typing channel; empty leaves the relay
	// broadcast as the only typing source.
	RedisAddr string `env:"STUDYCHAT_REDIS_ADDR"`
}

// LoadServerConfig reads the environment, honoring a .env file when present.
func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse server config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	return cfg, nil
}

// LoadClientConfig reads the environment, honoring a .env file when present.
func LoadClientConfig() (ClientConfig, error) {
	_ = godotenv.Load()
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse client config: %w", err)
	}
	return cfg, nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("STUDYCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "studychat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "studychat", "studychat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Studychat", "studychat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Studychat", "studychat.db")
		}
		return filepath.Join(home, ".local", "share", "studychat", "studychat.db")
	}
	return filepath.Join(".", ".studychat", "studychat.db")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
