package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/model"
)

// ErrDuplicateMigration is returned when a request is already pending for
// the same account and character.
var ErrDuplicateMigration = errors.New("migration already pending")

// Config holds migration configuration.
type Config struct {
	TTL           time.Duration // Request lifetime (default: 30s)
	SweepInterval time.Duration // Expiry sweep period (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:           30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

type key struct {
	accountID   int32
	characterID int32
}

// Request is a pending migration.
type Request struct {
	RequestID       int32
	SourceChannelID int32
	Info            model.MigrationInfo
	IssuedAt        time.Time
}

// Coordinator stores pending migration requests.
type Coordinator struct {
	cfg      Config
	logger   *slog.Logger
	recorder model.EventRecorder
	now      func() time.Time

	mu       sync.RWMutex
	pending  map[key]Request
	onExpire func(Request)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator. recorder may be nil.
func New(cfg Config, recorder model.EventRecorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = model.NopRecorder{}
	}
	return &Coordinator{
		cfg:      cfg,
		logger:   logger.With("component", "migration"),
		recorder: recorder,
		now:      time.Now,
		pending:  make(map[key]Request),
	}
}

// OnExpire registers fn to run for every request that expires without being
// completed. fn is called without the coordinator lock held.
func (c *Coordinator) OnExpire(fn func(Request)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = fn
}

func (c *Coordinator) expired(req Request, now time.Time) bool {
	return c.cfg.TTL > 0 && now.Sub(req.IssuedAt) >= c.cfg.TTL
}

// Submit stores a request issued by sourceChannelID.
func (c *Coordinator) Submit(requestID, sourceChannelID int32, info model.MigrationInfo) error {
	k := key{info.AccountID, info.CharacterID}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.pending[k]; ok && !c.expired(cur, now) {
		metrics.RecordMigration("duplicate")
		return fmt.Errorf("account %d character %d: %w", info.AccountID, info.CharacterID, ErrDuplicateMigration)
	}
	c.pending[k] = Request{
		RequestID:       requestID,
		SourceChannelID: sourceChannelID,
		Info:            info,
		IssuedAt:        now,
	}
	metrics.RecordMigration("submitted")

	e := model.NewEvent(model.EventMigrationSubmitted)
	e.ChannelID = sourceChannelID
	e.AccountID = info.AccountID
	e.CharacterID = info.CharacterID
	e.Detail = fmt.Sprintf("target=%d", info.ChannelID)
	c.recorder.Record(e)
	return nil
}

// Complete consumes the request for (accountID, characterID) if the
// fingerprint and session key match. Any attempt on a live request removes it.
func (c *Coordinator) Complete(channelID, accountID, characterID int32, fp model.Fingerprint, sk model.SessionKey) (model.MigrationInfo, bool) {
	k := key{accountID, characterID}
	now := c.now()

	c.mu.Lock()
	req, ok := c.pending[k]
	if ok {
		delete(c.pending, k)
	}
	onExpire := c.onExpire
	c.mu.Unlock()

	if !ok {
		metrics.RecordMigration("rejected")
		return model.MigrationInfo{}, false
	}
	if c.expired(req, now) {
		c.recordExpired(req)
		metrics.RecordMigration("expired")
		if onExpire != nil {
			onExpire(req)
		}
		return model.MigrationInfo{}, false
	}
	if req.Info.Fingerprint != fp || req.Info.SessionKey != sk {
		c.logger.Warn("migration credentials mismatch",
			"account_id", accountID,
			"character_id", characterID,
			"channel", channelID,
		)
		metrics.RecordMigration("rejected")
		return model.MigrationInfo{}, false
	}
	if channelID != req.Info.ChannelID {
		c.logger.Warn("migration completed on unexpected channel",
			"account_id", accountID,
			"character_id", characterID,
			"channel", channelID,
			"target", req.Info.ChannelID,
		)
	}

	metrics.RecordMigration("completed")
	e := model.NewEvent(model.EventMigrationCompleted)
	e.ChannelID = channelID
	e.AccountID = accountID
	e.CharacterID = characterID
	e.Detail = fmt.Sprintf("source=%d", req.SourceChannelID)
	c.recorder.Record(e)
	return req.Info, true
}

// IsMigrating reports whether an unexpired request is pending for accountID.
func (c *Coordinator) IsMigrating(accountID int32) bool {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, req := range c.pending {
		if k.accountID == accountID && !c.expired(req, now) {
			return true
		}
	}
	return false
}

// Sweep removes requests that have expired as of now and returns how many
// were removed.
func (c *Coordinator) Sweep(now time.Time) int {
	var expired []Request

	c.mu.Lock()
	for k, req := range c.pending {
		if c.expired(req, now) {
			delete(c.pending, k)
			expired = append(expired, req)
		}
	}
	onExpire := c.onExpire
	c.mu.Unlock()

	for _, req := range expired {
		c.recordExpired(req)
		metrics.RecordMigration("expired")
		if onExpire != nil {
			onExpire(req)
		}
	}
	if len(expired) > 0 {
		c.logger.Debug("expired migrations swept", "count", len(expired))
	}
	return len(expired)
}

func (c *Coordinator) recordExpired(req Request) {
	c.logger.Info("migration expired",
		"account_id", req.Info.AccountID,
		"character_id", req.Info.CharacterID,
		"source", req.SourceChannelID,
		"target", req.Info.ChannelID,
	)
	e := model.NewEvent(model.EventMigrationExpired)
	e.ChannelID = req.SourceChannelID
	e.AccountID = req.Info.AccountID
	e.CharacterID = req.Info.CharacterID
	c.recorder.Record(e)
}

// Len returns the number of stored requests, including expired ones not yet
// swept.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Start begins the sweep loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("migration sweeper started",
		"ttl", c.cfg.TTL,
		"interval", c.cfg.SweepInterval,
	)
	return nil
}

// Stop gracefully shuts down the sweep loop.
func (c *Coordinator) Stop(ctx context.Context) error {
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
		c.logger.Info("migration sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}
