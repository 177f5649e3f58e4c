package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEngineTimeout bounds one attempt of a model call.
const DefaultEngineTimeout = 30 * time.Second

// KeychainService is the secret store service name.
const KeychainService = "rehearse"

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Speech    SpeechConfig
	Log       LogConfig
	Retrieval RetrievalConfig
	Interview InterviewConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	// Token is the bearer token required by the HTTP and MCP surfaces.
	Token string
}

type EngineConfig struct {
	Backend     string
	URL         string
	APIKey      string
	ChatModel   string
	RatingModel string
	EmbedModel  string
	// Timeout bounds a single engine attempt.
	Timeout string
}

type StorageConfig struct {
	DataDir string
}

// RedisConfig enables the shared cache and rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SpeechConfig enables the remote speech analyzer when URL is set.
type SpeechConfig struct {
	URL     string
	APIKey  string
	Timeout string
}

type LogConfig struct {
	Level string
}

type RetrievalConfig struct {
	TopK int
	// Rerank asks the chat model to re-score retrieved snippets.
	Rerank          bool
	RerankThreshold float64
}

type InterviewConfig struct {
	PolicyFile         string
	RateLimitPerMinute int
	RateLimitBurst     int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Engine: EngineConfig{
			Backend:     "ollama",
			URL:         "http://localhost:11434",
			ChatModel:   "llama3.1",
			RatingModel: "llama3.1",
			EmbedModel:  "nomic-embed-text",
			Timeout:     "30s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Speech: SpeechConfig{
			Timeout: "30s",
		},
		Log: LogConfig{
			Level: "info",
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			RerankThreshold: 0.3,
		},
		Interview: InterviewConfig{
			RateLimitPerMinute: 10,
			RateLimitBurst:     3,
		},
	}
}

// Load reads configuration from the platform store, a .env file,
// environment variables, and the platform secret store.
//
// On macOS values live in UserDefaults (domain: com.rehearse.app) and secrets
// in the Keychain.
// Elsewhere values live in $XDG_CONFIG_HOME/rehearse/config.yaml and secrets
// in $XDG_DATA_HOME/rehearse/secrets.yaml.
//
// Variables from ./.env are loaded first without replacing ones already set.
// Environment variables (REHEARSE_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformStore(), keychainReader{})
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(st Store, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyStore(&cfg, st); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not supplied by the environment come from the platform store.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(KeychainService, s.account()); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.Engine.Backend) {
	case "ollama":
	case "openai", "gemini":
		if cfg.Engine.APIKey == "" {
			return fmt.Errorf("missing required config: %s API key. "+
				"Set it via environment variable REHEARSE_ENGINE_API_KEY%s", cfg.Engine.Backend, apiKeyHint())
		}
	default:
		return fmt.Errorf("invalid engine.backend %q (want ollama, openai or gemini)", cfg.Engine.Backend)
	}
	if cfg.Server.Port <= 0 || cfg.Server.MCPPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	for _, d := range []struct{ key, val string }{
		{"engine.timeout", cfg.Engine.Timeout},
		{"speech.timeout", cfg.Speech.Timeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.val, err)
		}
	}
	return nil
}

// Duration parses a validated duration value, returning def when s is empty.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LogLevel maps log.level onto a slog level; unknown values mean info.
func (c Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
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
