package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store account name, e.g. "engine_api_key".
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REHEARSE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "REHEARSE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.token", typ: kString, env: "REHEARSE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "engine.backend", typ: kString, env: "REHEARSE_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "engine.url", typ: kString, env: "REHEARSE_ENGINE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.URL },
	},
	{
		key: "engine.api_key", typ: kString, env: "REHEARSE_ENGINE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "engine.chat_model", typ: kString, env: "REHEARSE_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.rating_model", typ: kString, env: "REHEARSE_ENGINE_RATING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.RatingModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.RatingModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "REHEARSE_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.timeout", typ: kString, env: "REHEARSE_ENGINE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REHEARSE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "redis.addr", typ: kString, env: "REHEARSE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.password", typ: kString, env: "REHEARSE_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Redis.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Password },
	},
	{
		key: "redis.db", typ: kInt, env: "REHEARSE_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Redis.DB = v.(int) },
		extract: func(cfg Config) any { return cfg.Redis.DB },
	},
	{
		key: "speech.url", typ: kString, env: "REHEARSE_SPEECH_URL",
		apply:   func(cfg *Config, v any) { cfg.Speech.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.URL },
	},
	{
		key: "speech.api_key", typ: kString, env: "REHEARSE_SPEECH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Speech.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.APIKey },
	},
	{
		key: "speech.timeout", typ: kString, env: "REHEARSE_SPEECH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Speech.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "REHEARSE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "REHEARSE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.rerank", typ: kBool, env: "REHEARSE_RETRIEVAL_RERANK",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.Rerank },
	},
	{
		key: "retrieval.rerank_threshold", typ: kFloat, env: "REHEARSE_RETRIEVAL_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankThreshold },
	},
	{
		key: "interview.policy_file", typ: kString, env: "REHEARSE_INTERVIEW_POLICY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Interview.PolicyFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Interview.PolicyFile },
	},
	{
		key: "interview.rate_limit_per_minute", typ: kInt, env: "REHEARSE_INTERVIEW_RATE_LIMIT_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Interview.RateLimitPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Interview.RateLimitPerMinute },
	},
	{
		key: "interview.rate_limit_burst", typ: kInt, env: "REHEARSE_INTERVIEW_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Interview.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Interview.RateLimitBurst },
	},
}

// parse converts raw text into the key's Go type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func applyStore(cfg *Config, st Store) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := st.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets REHEARSE_* variables win over stored values. A value
// that does not parse is reported and skipped.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
