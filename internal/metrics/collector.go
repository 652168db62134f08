package metrics

import (
	"context"
	"time"
)

// Sizes reports the current size of each coordinator store.
type Sizes interface {
	Channels() int
	Users() int
	Parties() int
	PendingMigrations() int
}

// Collector periodically copies store sizes into gauges.
type Collector struct {
	sizes    Sizes
	interval time.Duration
}

// NewCollector creates a collector sampling every interval.
func NewCollector(sizes Sizes, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{sizes: sizes, interval: interval}
}

// Collect samples once.
func (c *Collector) Collect() {
	ChannelsConnected.Set(float64(c.sizes.Channels()))
	UsersOnline.Set(float64(c.sizes.Users()))
	PartiesActive.Set(float64(c.sizes.Parties()))
	PendingMigrations.Set(float64(c.sizes.PendingMigrations()))
}

// Run samples until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
