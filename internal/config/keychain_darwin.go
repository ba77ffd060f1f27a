//go:build darwin

package config

import (
	"errors"
	"fmt"
)

// security(1) exits with 44 when no matching keychain item exists.
const securityItemNotFound = 44

func keychainGet(service, account string) ([]byte, error) {
	out, code, err := runTool("security", "find-generic-password", "-s", service, "-a", account, "-w")
	if code == securityItemNotFound {
		return nil, fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func keychainSet(service, account, value string) error {
	if value == "" {
		return errors.New("refusing to store an empty secret")
	}
	_, _, err := runTool("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
	return err
}
