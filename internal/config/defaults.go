package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTCPPort      = 12345
	DefaultWSPort       = 8888
	DefaultHealthPort   = 8080
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	DefaultBackend = "file"
	DefaultDataDir = "data"

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.TCPPort == 0 {
		c.Server.TCPPort = DefaultTCPPort
	}
	if c.Server.WSPort == 0 {
		c.Server.WSPort = DefaultWSPort
	}
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = DefaultHealthPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}

	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Storage.Backend == "postgres" {
		applyDBDefaults(&c.Storage.Postgres)
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
