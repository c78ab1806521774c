package config

import "time"

// Default configuration values.
const (
	DefaultStateFile      = ".gridstream/state.db"
	DefaultStateDriver    = "sqlite"
	DefaultProvidersFile  = "providers.yaml"
	DefaultInstanceID     = "default"
	DefaultKeyColumn      = "id"
	DefaultNotifyInterval = 100 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultListenAddr     = ":8390"
	DefaultExportDir      = "."
	DefaultOutput         = "table"
)
