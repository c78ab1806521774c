// Package config loads gridstream configuration from file, environment
// variables and CLI flags.
package config

import "time"

// Config is the engine configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
type Config struct {
	// StatePath is the sqlite configuration store location.
	StatePath string `koanf:"state_path"`
	// StateDriver selects the configuration store backend: sqlite or
	// postgres.
	StateDriver string `koanf:"state_driver"`
	// PostgresDSN is used when StateDriver is postgres.
	PostgresDSN string `koanf:"postgres_dsn"`

	// ProvidersPath is the provider definitions file.
	ProvidersPath string `koanf:"providers_path"`
	// InstanceID identifies the surface instance owning column group
	// definitions.
	InstanceID string `koanf:"instance_id"`
	// KeyColumn is the row identity field.
	KeyColumn string `koanf:"key_column"`

	// NotifyInterval throttles status-panel notifications.
	NotifyInterval time.Duration `koanf:"notify_interval"`
	// ConnectTimeout bounds stream channel connection attempts.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// ListenAddr is the HTTP API bind address.
	ListenAddr string `koanf:"listen_addr"`
	// SessionSecret signs browser session cookies.
	SessionSecret string `koanf:"session_secret"`

	// ExportDir receives exported profile files.
	ExportDir string `koanf:"export_dir"`

	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"`

	// ProjectRoot is the directory configuration was anchored to.
	ProjectRoot string `koanf:"-"`
}
