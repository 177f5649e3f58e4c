package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset only.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			v = "(unset)"
			if s.extract(cfg).(string) != "" {
				v = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  v,
		})
	}
	return result
}

// SetKey validates value against the key's type and writes it to the
// platform store.
func SetKey(key, value string) error {
	return setKey(newPlatformStore(), key, value)
}

func setKey(st Store, key, value string) error {
	i := slices.IndexFunc(specs, func(s keySpec) bool { return s.key == key })
	if i < 0 {
		return fmt.Errorf("unknown config key: %q", key)
	}
	s := specs[i]
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use `config set-secret` or environment variable %s", key, s.env)
	}
	if _, err := s.parse(value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return st.Set(key, value)
}

// SetSecret stores a secret key in the platform secret store.
func SetSecret(key, value string) error {
	for _, s := range specs {
		if s.key == key && s.secret {
			return keychainSet(KeychainService, s.account(), value)
		}
	}
	return fmt.Errorf("unknown secret key: %q (want one of %v)", key, SecretKeys())
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// SecretKeys returns the keys read from the secret store.
func SecretKeys() []string {
	var keys []string
	for _, s := range specs {
		if s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// EnsureToken returns the API token, generating one and storing it in the
// platform secret store when none is configured.
func EnsureToken(cfg *Config) (string, error) {
	return ensureToken(cfg, keychainSet)
}

func ensureToken(cfg *Config, store func(service, account, value string) error) (string, error) {
	if cfg.Server.Token != "" {
		return cfg.Server.Token, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := store(KeychainService, "server_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	cfg.Server.Token = token
	return token, nil
}
