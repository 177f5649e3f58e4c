//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// secretsFile maps service -> account -> value. It lives next to the data
// directory with 0600 permissions.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.yaml")
}

func readSecrets(path string) (secretsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s secretsFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

func keychainExec(service, account string) ([]byte, error) {
	s, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	s, err := readSecrets(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if s == nil {
		s = secretsFile{}
	}
	if s[service] == nil {
		s[service] = map[string]string{}
	}
	s[service][account] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
