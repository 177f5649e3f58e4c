//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "rehearse")
}

func apiKeyHint() string {
	return " or `rehearse config set-secret engine.api_key <key>`"
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func newPlatformStore() Store {
	s, err := openYAMLStore(filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "rehearse", "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v. Using default values.\n", err)
	}
	return s
}

// yamlStore keeps config as nested YAML sections, so "server.port" lives
// under server: port:.
type yamlStore struct {
	path string
	root map[string]any
}

func openYAMLStore(path string) (*yamlStore, error) {
	s := &yamlStore{path: path, root: map[string]any{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("could not read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.root); err != nil {
		return s, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if s.root == nil {
		s.root = map[string]any{}
	}
	return s, nil
}

func (s *yamlStore) Get(key string) (string, bool, error) {
	section, leaf := splitKey(key)
	node, ok := s.root[section].(map[string]any)
	if !ok {
		return "", false, nil
	}
	v, ok := node[leaf]
	if !ok || v == nil {
		return "", false, nil
	}
	switch v := v.(type) {
	case string:
		return v, true, nil
	case map[string]any, []any:
		return "", true, fmt.Errorf("%s must be a scalar", key)
	default:
		return fmt.Sprint(v), true, nil
	}
}

func (s *yamlStore) Set(key, val string) error {
	section, leaf := splitKey(key)
	node, ok := s.root[section].(map[string]any)
	if !ok {
		node = map[string]any{}
		s.root[section] = node
	}
	node[leaf] = val
	return s.flush()
}

func (s *yamlStore) Delete(key string) error {
	section, leaf := splitKey(key)
	node, ok := s.root[section].(map[string]any)
	if !ok {
		return nil
	}
	delete(node, leaf)
	if len(node) == 0 {
		delete(s.root, section)
	}
	return s.flush()
}

func (s *yamlStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(s.root)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// splitKey splits at the first dot: "retrieval.rerank_threshold" is
// section "retrieval", leaf "rerank_threshold".
func splitKey(key string) (string, string) {
	section, leaf, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return section, leaf
}
