package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *CentralConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Connections.SendBuffer < 1 {
		return errors.New("connections.send_buffer must be >= 1")
	}
	if c.Connections.MaxPending < c.Connections.SendBuffer {
		return fmt.Errorf("connections.max_pending (%d) cannot be less than send_buffer (%d)",
			c.Connections.MaxPending, c.Connections.SendBuffer)
	}
	if c.Connections.WriteTimeout <= 0 {
		return errors.New("connections.write_timeout must be > 0")
	}
	if c.Connections.PingInterval >= c.Connections.ReadTimeout {
		return fmt.Errorf("connections.ping_interval (%v) must be less than read_timeout (%v)",
			c.Connections.PingInterval, c.Connections.ReadTimeout)
	}

	if c.Migration.TTL <= 0 {
		return errors.New("migration.ttl must be > 0")
	}
	if c.Migration.SweepInterval <= 0 {
		return errors.New("migration.sweep_interval must be > 0")
	}
	if c.Party.Capacity < 2 {
		return errors.New("party.capacity must be >= 2")
	}

	if c.Audit.Enabled {
		if c.Audit.BatchSize < 1 {
			return errors.New("audit.batch_size must be >= 1")
		}
		if c.Audit.BufferSize < c.Audit.BatchSize {
			return fmt.Errorf("audit.buffer_size (%d) cannot be less than batch_size (%d)",
				c.Audit.BufferSize, c.Audit.BatchSize)
		}
		if err := c.Database.Audit.validate("database.audit"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Shutdown.Timeout <= 0 {
		return errors.New("shutdown.timeout must be > 0")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
