package config

import "time"

// CentralConfig is the root configuration for a coordinator instance.
type CentralConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Connections ConnectionsConfig `yaml:"connections"`
	Migration   MigrationConfig   `yaml:"migration"`
	Party       PartyConfig       `yaml:"party"`
	Audit       AuditConfig       `yaml:"audit"`
	Database    DatabaseConfig    `yaml:"database"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// InstanceConfig identifies this coordinator.
type InstanceConfig struct {
	ID string `yaml:"id" env:"CENTRAL_INSTANCE_ID"`
}

// ServerConfig holds the channel-facing WebSocket listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"CENTRAL_LISTEN_ADDR"`
	Path       string `yaml:"path" env:"CENTRAL_PATH"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"CENTRAL_LOG_LEVEL"` // debug, info, warn, error
}

// ConnectionsConfig holds per-channel connection settings.
type ConnectionsConfig struct {
	SendBuffer    int           `yaml:"send_buffer"`
	MaxPending    int           `yaml:"max_pending" env:"CENTRAL_MAX_PENDING"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes"`
}

// MigrationConfig holds pending-migration expiry settings.
type MigrationConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"CENTRAL_MIGRATION_TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PartyConfig holds party settings.
type PartyConfig struct {
	Capacity int `yaml:"capacity" env:"CENTRAL_PARTY_CAPACITY"`
}

// AuditConfig holds the event writer settings.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled" env:"CENTRAL_AUDIT_ENABLED"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the audit database connection. It is only used when
// audit is enabled.
type DatabaseConfig struct {
	Audit DBConfig `yaml:"audit"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" env:"CENTRAL_DB_HOST"`
	Port     int    `yaml:"port" env:"CENTRAL_DB_PORT"`
	Name     string `yaml:"name" env:"CENTRAL_DB_NAME"`
	User     string `yaml:"user" env:"CENTRAL_DB_USER"`
	Password string `yaml:"password" env:"CENTRAL_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port" env:"CENTRAL_METRICS_PORT"`
	Path string `yaml:"path"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"CENTRAL_SHUTDOWN_TIMEOUT"`
}
