//go:build darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const defaultsDomain = "com.sciask.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sciask-data"
	}
	return filepath.Join(home, "Library", "Application Support", "sciask")
}

func secretHint(account string) string {
	return fmt.Sprintf(" or store it in the macOS Keychain (service %q, account %q)", keychainService, account)
}

// defaultsBackend stores non-secret keys in the user defaults domain.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, code, err := runTool("defaults", "read", b.domain, key)
	switch {
	case code == 1:
		// defaults(1) exits 1 for a missing domain or key.
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return out, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	_, _, err := runTool("defaults", "write", b.domain, key, "-string", val)
	return err
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	_, _, err := runTool("defaults", "write", b.domain, key, "-int", strconv.Itoa(val))
	return err
}

func (b *defaultsBackend) Delete(key string) error {
	_, code, err := runTool("defaults", "delete", b.domain, key)
	if code == 1 {
		return nil
	}
	return err
}
