//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.rehearse.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rehearse-data"
	}
	return filepath.Join(home, "Library", "Application Support", "rehearse")
}

func apiKeyHint() string {
	return " or `rehearse config set-secret engine.api_key <key>` (macOS Keychain, service: rehearse)"
}

func newPlatformStore() Store {
	return defaultsStore(defaultsDomain)
}

// defaultsStore keeps config in UserDefaults through the `defaults` CLI.
// Every value is written as a string.
type defaultsStore string

func (d defaultsStore) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", string(d), key).CombinedOutput()
	val := strings.TrimSpace(string(out))
	var exit *exec.ExitError
	switch {
	case err == nil:
		return val, true, nil
	case errors.As(err, &exit) && exit.ExitCode() == 1:
		// The key is not set.
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, val)
	}
}

func (d defaultsStore) Set(key, val string) error {
	if out, err := exec.Command("defaults", "write", string(d), key, "-string", val).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d defaultsStore) Delete(key string) error {
	if _, ok, err := d.Get(key); err != nil || !ok {
		return err
	}
	return exec.Command("defaults", "delete", string(d), key).Run()
}
