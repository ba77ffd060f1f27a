package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kTokens
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account names the secret in the platform secret store.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SCIASK_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SCIASK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "backend.base_url", typ: kString, env: "SCIASK_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.timeout", typ: kDuration, env: "SCIASK_BACKEND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "SCIASK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCIASK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "client.server_url", typ: kString, env: "SCIASK_CLIENT_SERVER_URL",
		apply:   func(cfg *Config, v any) { cfg.Client.ServerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.ServerURL },
	},
	{
		key: "client.user_id", typ: kString, env: "SCIASK_CLIENT_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Client.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.UserID },
	},
	{
		key: "mcp.user_id", typ: kString, env: "SCIASK_MCP_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.MCP.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.UserID },
	},
	{
		key: "history.poll_interval", typ: kDuration, env: "SCIASK_HISTORY_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.History.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.History.PollInterval },
	},
	{
		key: "auth.tokens", typ: kTokens, env: "SCIASK_AUTH_TOKENS",
		secret: true, account: "auth_tokens",
		apply:   func(cfg *Config, v any) { cfg.Auth.Tokens = v.(map[string]string) },
		extract: func(cfg Config) any { return cfg.Auth.Tokens },
	},
	{
		key: "client.token", typ: kString, env: "SCIASK_TOKEN",
		secret: true, account: "client_token",
		apply:   func(cfg *Config, v any) { cfg.Client.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.Token },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go value of s's type.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration must be positive, got %s", d)
		}
		return d, nil
	case kTokens:
		return ParseTokens(raw)
	default:
		return raw, nil
	}
}

func applyRaw(cfg *Config, s keySpec, raw string) error {
	v, err := parseValue(s, raw)
	if err != nil {
		return err
	}
	s.apply(cfg, v)
	return nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if err := applyRaw(cfg, s, v); err != nil {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if err := applyRaw(cfg, s, raw); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s: %v. Using default value.\n", s.env, err)
		}
	}
}

// ParseTokens parses a "token=user,token=user" list. Whitespace around
// entries is ignored; empty entries are skipped.
func ParseTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for entry := range strings.SplitSeq(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, user, ok := strings.Cut(entry, "=")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid token entry %q, want token=user", entry)
		}
		tokens[token] = user
	}
	return tokens, nil
}

// formatTokens renders tokens in the form ParseTokens reads.
func formatTokens(tokens map[string]string) string {
	parts := make([]string, 0, len(tokens))
	for _, token := range slices.Sorted(maps.Keys(tokens)) {
		parts = append(parts, token+"="+tokens[token])
	}
	return strings.Join(parts, ",")
}
