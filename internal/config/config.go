// Package config loads Sortify's settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendSurreal = "surreal"
	BackendTOML    = "toml"
	BackendMemory  = "memory"
	BackendRemote  = "remote"
)

// Reply providers.
const (
	ResponderKeyword  = "keyword"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// Backend selects the chat store.
	Backend string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// StorePath overrides the TOML store location when set.
	StorePath string

	// Remote gateway
	ServerURL  string
	ServerPort int

	// Chat
	Owner      string
	ReplyDelay time.Duration
	TitleMax   int

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Replies
	Responder       string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	RulesFile       string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Backend: strings.ToLower(getEnv("SORTIFY_BACKEND", BackendSurreal)),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "sortify"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		StorePath: getEnv("SORTIFY_STORE_PATH", ""),

		ServerURL:  getEnv("SORTIFY_SERVER_URL", "http://localhost:8484"),
		ServerPort: getEnvInt("SORTIFY_SERVER_PORT", 8484),

		Owner:      getEnv("SORTIFY_OWNER", os.Getenv("USER")),
		ReplyDelay: parseDelay(getEnv("SORTIFY_REPLY_DELAY", "1500ms")),
		TitleMax:   getEnvInt("SORTIFY_TITLE_MAX", 50),

		LogFile:  getEnv("SORTIFY_LOG_FILE", filepath.Join(os.TempDir(), "sortify.log")),
		LogLevel: parseLogLevel(getEnv("SORTIFY_LOG_LEVEL", "INFO")),

		Responder:       strings.ToLower(getEnv("SORTIFY_RESPONDER", ResponderKeyword)),
		LLMModel:        getEnv("SORTIFY_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		RulesFile:       getEnv("SORTIFY_RULES_FILE", ""),
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSurreal, BackendTOML, BackendMemory, BackendRemote:
	default:
		return fmt.Errorf("unknown backend %q (want surreal, toml, memory or remote)", c.Backend)
	}
	switch c.Responder {
	case ResponderKeyword, ProviderOllama, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown responder %q", c.Responder)
	}
	if c.TitleMax <= 0 {
		return fmt.Errorf("title max must be positive, got %d", c.TitleMax)
	}
	if c.ReplyDelay < 0 {
		return fmt.Errorf("reply delay must not be negative, got %s", c.ReplyDelay)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", val)
		return defaultVal
	}
	return n
}

// parseDelay accepts a Go duration ("1.5s") or bare milliseconds ("1500").
func parseDelay(s string) time.Duration {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid reply delay", "value", s)
		return 1500 * time.Millisecond
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
