package central

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/central/internal/config"
	"github.com/rickgao/central/internal/connection"
	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/migration"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/party"
	"github.com/rickgao/central/internal/relay"
	"github.com/rickgao/central/internal/router"
	"github.com/rickgao/central/internal/user"
	"github.com/rickgao/central/internal/writer"
)

// Option configures a Central.
type Option func(*Central)

// WithAuditSink sets the database audit events are written to. It only
// takes effect when audit is enabled in the config.
func WithAuditSink(db writer.BatchSender) Option {
	return func(c *Central) {
		c.auditDB = db
	}
}

// WithCollectInterval sets how often store sizes are copied into gauges.
func WithCollectInterval(d time.Duration) Option {
	return func(c *Central) {
		c.collectInterval = d
	}
}

// Central owns every coordinator component.
type Central struct {
	cfg    *config.CentralConfig
	logger *slog.Logger

	nodes      *node.Registry
	users      *user.Registry
	migrations *migration.Coordinator
	parties    *party.Coordinator
	relay      *relay.Relay
	router     *router.Router
	server     *connection.Server

	auditDB         writer.BatchSender
	writer          *writer.EventWriter // Nil when audit is disabled
	recorder        model.EventRecorder
	collectInterval time.Duration

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the coordinator. Nothing runs until Start.
func New(cfg *config.CentralConfig, logger *slog.Logger, opts ...Option) *Central {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Central{
		cfg:             cfg,
		logger:          logger.With("component", "central"),
		recorder:        model.NopRecorder{},
		collectInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Audit.Enabled && c.auditDB != nil {
		c.writer = writer.NewEventWriter(writer.Config{
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			BufferSize:    cfg.Audit.BufferSize,
		}, c.auditDB, logger)
		c.recorder = c.writer
	} else if cfg.Audit.Enabled {
		c.logger.Warn("audit enabled without a sink, events are discarded")
	}

	c.nodes = node.NewRegistry(logger)
	c.users = user.NewRegistry(logger)
	c.migrations = migration.New(migration.Config{
		TTL:           cfg.Migration.TTL,
		SweepInterval: cfg.Migration.SweepInterval,
	}, c.recorder, logger)
	c.parties = party.New(party.Config{Capacity: cfg.Party.Capacity}, c.users, c.nodes, c.recorder, logger)
	c.relay = relay.New(c.users, c.nodes, logger)
	c.router = router.New(router.Deps{
		Nodes:      c.nodes,
		Users:      c.users,
		Migrations: c.migrations,
		Parties:    c.parties,
		Relay:      c.relay,
		Recorder:   c.recorder,
	}, logger)
	c.server = connection.NewServer(connection.ServerConfig{
		SendBuffer:    cfg.Connections.SendBuffer,
		MaxPending:    cfg.Connections.MaxPending,
		WriteTimeout:  cfg.Connections.WriteTimeout,
		ReadTimeout:   cfg.Connections.ReadTimeout,
		PingInterval:  cfg.Connections.PingInterval,
		MaxFrameBytes: cfg.Connections.MaxFrameBytes,
	}, c.router, logger)

	return c
}

// Start launches the migration sweeper, the metrics collector and, when
// enabled, the audit writer.
func (c *Central) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.writer != nil {
		if err := c.writer.Start(c.ctx); err != nil {
			c.cancel()
			return err
		}
	}
	if err := c.migrations.Start(c.ctx); err != nil {
		c.cancel()
		return err
	}

	collector := metrics.NewCollector(c, c.collectInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		collector.Run(c.ctx)
	}()

	c.logger.Info("central started",
		"instance_id", c.cfg.Instance.ID,
		"party_capacity", c.cfg.Party.Capacity,
		"migration_ttl", c.cfg.Migration.TTL,
		"audit", c.writer != nil,
	)
	return nil
}

// Handler returns the WebSocket endpoint channels connect to.
func (c *Central) Handler() http.Handler {
	return c.server
}

// Shutdown asks every connected channel to shut down and waits until all
// of them have acknowledged or disconnected, or ctx is done.
func (c *Central) Shutdown(ctx context.Context) error {
	n := c.router.RequestShutdown()
	c.logger.Info("requested channel shutdown", "channels", n)
	if err := c.router.AwaitChannels(ctx); err != nil {
		c.logger.Warn("channels did not shut down in time", "error", err)
		return err
	}
	c.logger.Info("all channels shut down")
	return nil
}

// Stop closes channel connections and stops background loops. Queued audit
// events are flushed before it returns.
func (c *Central) Stop(ctx context.Context) error {
	c.logger.Info("stopping central")

	c.server.Close()
	if err := c.migrations.Stop(ctx); err != nil {
		c.logger.Warn("migration sweeper stop", "error", err)
	}
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("central stop timed out")
	}

	if c.writer != nil {
		if err := c.writer.Stop(ctx); err != nil {
			return err
		}
	}

	c.logger.Info("central stopped")
	return nil
}

// Channels returns the number of registered channels.
func (c *Central) Channels() int { return c.nodes.Len() }

// Users returns the number of known characters.
func (c *Central) Users() int { return c.users.Len() }

// Parties returns the number of live parties.
func (c *Central) Parties() int { return c.parties.Len() }

// PendingMigrations returns the number of unconsumed migration requests.
func (c *Central) PendingMigrations() int { return c.migrations.Len() }

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Channels          int           `json:"channels"`
	Users             int           `json:"users"`
	Parties           int           `json:"parties"`
	PendingMigrations int           `json:"pending_migrations"`
	Connections       int           `json:"connections"`
	Router            router.Stats  `json:"router"`
	Audit             *writer.Stats `json:"audit,omitempty"`
}

// Stats returns current statistics.
func (c *Central) Stats() Stats {
	s := Stats{
		Channels:          c.Channels(),
		Users:             c.Users(),
		Parties:           c.Parties(),
		PendingMigrations: c.PendingMigrations(),
		Connections:       c.server.Len(),
		Router:            c.router.Stats(),
	}
	if c.writer != nil {
		ws := c.writer.Stats()
		s.Audit = &ws
	}
	return s
}

// ChannelInfo describes a registered channel.
type ChannelInfo struct {
	ChannelID int32  `json:"channel_id"`
	Addr      string `json:"addr"`
}

// ChannelList returns the registered channels ordered by id.
func (c *Central) ChannelList() []ChannelInfo {
	nodes := c.nodes.All()
	out := make([]ChannelInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, ChannelInfo{ChannelID: n.ChannelID, Addr: n.Addr()})
	}
	return out
}
