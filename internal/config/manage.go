package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are never shown, only whether they are set.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch {
		case !s.secret:
			info.Value = fmt.Sprintf("%v", s.extract(cfg))
		case isZero(s.extract(cfg)):
			info.Value = "(not set)"
		default:
			info.Value = "(set)"
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes a config key to the platform backend. Secret keys go to the
// platform secret store instead.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), secretStore{}, key, value)
}

type secretWriter interface {
	Set(service, account, value string) error
}

type secretStore struct{}

func (secretStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

func setKeyWith(b ConfigBackend, sw secretWriter, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	if _, err := parseValue(s, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if s.secret {
		if s.typ == kTokens {
			tokens, _ := ParseTokens(value)
			value = formatTokens(tokens)
		}
		return sw.Set(keychainService, s.account, value)
	}

	switch s.typ {
	case kInt:
		i, _ := strconv.Atoi(value)
		return b.SetInt(key, i)
	case kDuration:
		d, _ := time.ParseDuration(value)
		return b.SetString(key, d.String())
	default:
		return b.SetString(key, value)
	}
}

// UnsetKey removes a key from the platform backend so its default applies
// again. Secrets live in the secret store and are not touched.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret and cannot be unset here; clear %s or the secret store entry %q", key, s.env, s.account)
	}
	return b.Delete(key)
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
