package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/rehearse/internal/interview"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain map[string]string

func (m mockKeychain) Get(service, account string) (string, error) {
	if service != KeychainService {
		return "", errors.New("wrong service")
	}
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// mapStore is an in-memory Store.
type mapStore map[string]string

func (m mapStore) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapStore) Set(key, val string) error { m[key] = val; return nil }
func (m mapStore) Delete(key string) error   { delete(m, key); return nil }

// clearEnv blanks every REHEARSE_* variable for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapStore{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 || cfg.Server.MCPPort != 4001 {
		t.Errorf("ports = %d/%d, want 4000/4001", cfg.Server.Port, cfg.Server.MCPPort)
	}
	if cfg.Engine.Backend != "ollama" || cfg.Engine.URL != "http://localhost:11434" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.EmbedModel != "nomic-embed-text" {
		t.Errorf("Engine.EmbedModel = %q", cfg.Engine.EmbedModel)
	}
	if got := Duration(cfg.Engine.Timeout, 0); got != 30*time.Second || got != DefaultEngineTimeout {
		t.Errorf("Engine.Timeout = %q, want 30s", cfg.Engine.Timeout)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Redis.Addr != "" || cfg.Speech.URL != "" {
		t.Error("optional services must be disabled by default")
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := mapStore{
		"server.port":           "5000",
		"engine.chat_model":     "qwen2.5",
		"redis.addr":            "localhost:6379",
		"log.level":             "debug",
		"interview.policy_file": "/etc/rehearse/policy.yaml",
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 || cfg.Engine.ChatModel != "qwen2.5" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("backend values not applied: %+v", cfg)
	}
	if cfg.Interview.PolicyFile != "/etc/rehearse/policy.yaml" {
		t.Errorf("PolicyFile = %q", cfg.Interview.PolicyFile)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("REHEARSE_SERVER_PORT", "6000")
	t.Setenv("REHEARSE_ENGINE_BACKEND", "openai")
	t.Setenv("REHEARSE_ENGINE_API_KEY", "env-key")
	t.Setenv("REHEARSE_RETRIEVAL_TOP_K", "not-a-number")

	cfg, err := loadWith(mapStore{"server.port": "5000"}, mockKeychain{"engine_api_key": "keychain-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Engine.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Engine.APIKey)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("invalid env value should keep the default, got %d", cfg.Retrieval.TopK)
	}
}

func TestRerankKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("REHEARSE_RETRIEVAL_RERANK_THRESHOLD", "0.55")

	cfg, err := loadWith(mapStore{"retrieval.rerank": "true", "retrieval.rerank_threshold": "0.1"}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Retrieval.Rerank {
		t.Error("Rerank = false, want true from backend")
	}
	if cfg.Retrieval.RerankThreshold != 0.55 {
		t.Errorf("RerankThreshold = %g, want env value 0.55", cfg.Retrieval.RerankThreshold)
	}

	b := mapStore{}
	if err := setKey(b, "retrieval.rerank", "maybe"); err == nil {
		t.Error("expected error for non-bool value")
	}
	if err := setKey(b, "retrieval.rerank_threshold", "0.4"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b["retrieval.rerank_threshold"] != "0.4" {
		t.Errorf("backend = %v", b)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("REHEARSE_ENGINE_BACKEND", "gemini")

	kc := mockKeychain{"engine_api_key": "keychain-secret", "server_token": "tok"}
	cfg, err := loadWith(mapStore{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.APIKey != "keychain-secret" || cfg.Server.Token != "tok" {
		t.Errorf("secrets = %q, %q", cfg.Engine.APIKey, cfg.Server.Token)
	}
}

func TestMissingAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("REHEARSE_ENGINE_BACKEND", "openai")

	_, err := loadWith(mapStore{}, mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "missing required config") {
		t.Fatalf("err = %v, want missing required config", err)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := map[string]mapStore{
		"backend":        {"engine.backend": "llamafile"},
		"engine timeout": {"engine.timeout": "soon"},
		"speech timeout": {"speech.timeout": "10"},
		"stored port":    {"server.port": "eighty"},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if _, err := loadWith(b, mockKeychain{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSecretsAreNotReadFromBackend(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(mapStore{"server.token": "plain"}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Token != "" {
		t.Errorf("Token = %q, secrets must not come from the plain backend", cfg.Server.Token)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Engine.APIKey = "sk-123"

	for _, ki := range ShowAll(cfg) {
		switch ki.Key {
		case "engine.api_key":
			if ki.Value != "(set)" {
				t.Errorf("engine.api_key shown as %q", ki.Value)
			}
		case "redis.password":
			if ki.Value != "(unset)" {
				t.Errorf("redis.password shown as %q", ki.Value)
			}
		case "server.port":
			if ki.Value != "4000" || ki.EnvVar != "REHEARSE_SERVER_PORT" {
				t.Errorf("server.port = %+v", ki)
			}
		}
	}
}

func TestSetKey(t *testing.T) {
	b := mapStore{}
	if err := setKey(b, "server.port", "4500"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b["server.port"] != "4500" {
		t.Errorf("stored %q", b["server.port"])
	}
	if err := setKey(b, "server.port", "high"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "engine.api_key", "x"); err == nil {
		t.Error("secrets must be rejected")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("unknown keys must be rejected")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("REHEARSE_DOTENV_NEW", "")
	os.Unsetenv("REHEARSE_DOTENV_NEW")
	t.Setenv("REHEARSE_DOTENV_KEPT", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	content := "REHEARSE_DOTENV_NEW=from-dotenv\nREHEARSE_DOTENV_KEPT=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("REHEARSE_DOTENV_NEW"); got != "from-dotenv" {
		t.Errorf("new variable = %q, want from-dotenv", got)
	}
	if got := os.Getenv("REHEARSE_DOTENV_KEPT"); got != "from-env" {
		t.Errorf("existing variable replaced: %q", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env must be ignored, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("90s", time.Minute); got != 90*time.Second {
		t.Errorf("Duration = %v", got)
	}
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("Duration default = %v", got)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.MaxQuestions != interview.DefaultMaxQuestions {
		t.Errorf("MaxQuestions = %d", p.MaxQuestions)
	}
	if diff := cmp.Diff(interview.DefaultEndPhrases, p.EndPhrases); diff != "" {
		t.Errorf("end phrases differ from the built-in list (-want +got):\n%s", diff)
	}
	if p.ContextTTL != 2*time.Hour || p.DriftThreshold != 0.2 {
		t.Errorf("ttl = %v, drift = %v", p.ContextTTL, p.DriftThreshold)
	}
	for _, typ := range []interview.Type{interview.TypeBehavioral, interview.TypeTechnical, interview.TypeCase, interview.TypeSystemDesign, interview.TypeGeneral} {
		if len(p.Questions()[typ]) == 0 {
			t.Errorf("no questions for %s", typ)
		}
	}
}

func TestLoadPolicy_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
max_questions: 8
context_ttl: 30m
question_bank:
  technical:
    - Explain consistent hashing.
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.MaxQuestions != 8 || p.ContextTTL != 30*time.Minute {
		t.Errorf("policy = %+v", p)
	}
	if p.DriftThreshold != 0.2 || len(p.EndPhrases) == 0 {
		t.Error("omitted keys must keep their defaults")
	}
	want := map[interview.Type][]string{interview.TypeTechnical: {"Explain consistent hashing."}}
	if diff := cmp.Diff(want, p.Questions()); diff != "" {
		t.Errorf("question bank (-want +got):\n%s", diff)
	}
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := map[string]string{
		"zero questions":  "max_questions: 0",
		"drift above one": "drift_threshold: 1.5",
		"unknown type":    "question_bank:\n  trivia: [\"What is 2+2?\"]",
		"blank phrase":    "end_phrases: [\"  \"]",
		"hot temperature": "feedback_temperature: 3",
		"malformed":       "max_questions: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parsePolicy([]byte(content), DefaultPolicy()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnsureToken(t *testing.T) {
	stored := map[string]string{}
	store := func(service, account, value string) error {
		stored[service+"/"+account] = value
		return nil
	}

	cfg := defaults()
	tok, err := ensureToken(&cfg, store)
	if err != nil {
		t.Fatalf("ensureToken: %v", err)
	}
	if len(tok) != 64 || cfg.Server.Token != tok {
		t.Errorf("token = %q, cfg token = %q", tok, cfg.Server.Token)
	}
	if stored["rehearse/server_token"] != tok {
		t.Errorf("stored = %v", stored)
	}

	again, err := ensureToken(&cfg, func(string, string, string) error {
		t.Error("existing token must not be replaced")
		return nil
	})
	if err != nil || again != tok {
		t.Errorf("second call = %q, %v", again, err)
	}
}
