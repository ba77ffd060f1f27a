package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNoAuthTokens is returned by ValidateServer when no bearer token is
// configured for the proxy.
var ErrNoAuthTokens = errors.New("missing required config: auth tokens")

// ErrNoClientToken is returned by ValidateClient when the CLI has no token
// to present to the proxy.
var ErrNoClientToken = errors.New("missing required config: client token")

// errSecretNotFound is returned by the platform secret store when no entry
// exists for a service/account pair.
var errSecretNotFound = errors.New("secret not found")

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Log     LogConfig
	Storage StorageConfig
	Client  ClientConfig
	MCP     MCPConfig
	History HistoryConfig
	Auth    AuthConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address of the proxy.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type ClientConfig struct {
	ServerURL string
	UserID    string
	Token     string
}

type MCPConfig struct {
	UserID string
}

type HistoryConfig struct {
	PollInterval time.Duration
}

type AuthConfig struct {
	// Tokens maps each accepted bearer token to the user it signs in.
	Tokens map[string]string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:3000",
		},
		MCP: MCPConfig{
			UserID: "mcp",
		},
		History: HistoryConfig{
			PollInterval: 30 * time.Second,
		},
		Auth: AuthConfig{
			Tokens: map[string]string{},
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.sciask.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/sciask/config.json
// and secrets fall back to $XDG_DATA_HOME/sciask/secrets.json.
//
// Environment variables (SCIASK_*) override backend values on all platforms.
// Missing secrets are not an error here; commands that need them call
// ValidateServer or ValidateClient.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "sciask"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretStore(&cfg, kc)

	return cfg, nil
}

// applySecretStore fills secrets that the environment left empty.
func applySecretStore(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || !isZero(s.extract(*cfg)) {
			continue
		}
		val, err := kc.Get(keychainService, s.account)
		if err != nil || val == "" {
			continue
		}
		if err := applyRaw(cfg, s, val); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse secret %s from secret store: %v\n", s.key, err)
		}
	}
}

func isZero(v any) bool {
	switch val := v.(type) {
	case string:
		return val == ""
	case map[string]string:
		return len(val) == 0
	default:
		return v == nil
	}
}

// ValidateServer reports whether the proxy can authenticate anyone.
func (c Config) ValidateServer() error {
	if len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("%w. Set SCIASK_AUTH_TOKENS=token=user[,token=user...]%s", ErrNoAuthTokens, secretHint("auth_tokens"))
	}
	return nil
}

// ValidateClient reports whether the CLI can talk to the proxy.
func (c Config) ValidateClient() error {
	if c.Client.Token == "" {
		return fmt.Errorf("%w. Set SCIASK_TOKEN%s", ErrNoClientToken, secretHint("client_token"))
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
