//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// secretsFile stands in for a keychain: a 0600 JSON document of
// service -> account -> value.
type secretsFile struct {
	path string
}

func (f secretsFile) read() (map[string]map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(f.path); err == nil && info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "[WARN] secrets file %s is readable by other users (mode %s)\n", f.path, info.Mode().Perm())
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (f secretsFile) get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	return val, nil
}

func (f secretsFile) set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = map[string]string{}
	}
	secrets[service][account] = value

	raw, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, raw, 0o600)
}

func keychainGet(service, account string) ([]byte, error) {
	val, err := secretsFile{path: secretsFilePath()}.get(service, account)
	return []byte(val), err
}

func keychainSet(service, account, value string) error {
	return secretsFile{path: secretsFilePath()}.set(service, account, value)
}
