package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr     = ":8484"
	DefaultPath           = "/central"
	DefaultLogLevel       = "info"
	DefaultSendBuffer     = 256
	DefaultMaxPending     = 4096
	DefaultWriteTimeout   = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultPingInterval   = 20 * time.Second
	DefaultMaxFrameBytes  = 1 << 20
	DefaultMigrationTTL   = 30 * time.Second
	DefaultSweepInterval  = 5 * time.Second
	DefaultPartyCapacity  = 6
	DefaultBatchSize      = 500
	DefaultFlushInterval  = 1 * time.Second
	DefaultBufferSize     = 10000
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultShutdownPeriod = 15 * time.Second
)

func (c *CentralConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Connections defaults
	if c.Connections.SendBuffer == 0 {
		c.Connections.SendBuffer = DefaultSendBuffer
	}
	if c.Connections.MaxPending == 0 {
		c.Connections.MaxPending = DefaultMaxPending
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.ReadTimeout == 0 {
		c.Connections.ReadTimeout = DefaultReadTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.MaxFrameBytes == 0 {
		c.Connections.MaxFrameBytes = DefaultMaxFrameBytes
	}

	// Migration and party defaults
	if c.Migration.TTL == 0 {
		c.Migration.TTL = DefaultMigrationTTL
	}
	if c.Migration.SweepInterval == 0 {
		c.Migration.SweepInterval = DefaultSweepInterval
	}
	if c.Party.Capacity == 0 {
		c.Party.Capacity = DefaultPartyCapacity
	}

	// Audit defaults
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = DefaultBatchSize
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = DefaultFlushInterval
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Database.Audit)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdownPeriod
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
