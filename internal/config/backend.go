package config

// ConfigBackend is the platform store for non-secret keys: a JSON file
// under XDG_CONFIG_HOME on Linux, the sciask `defaults` domain on macOS.
// ok is false when the key has never been set.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
