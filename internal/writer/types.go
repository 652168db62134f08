package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Config holds writer batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Events held before Record starts dropping
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats contains writer statistics.
type Stats struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors"`
	Flushes   int64 `json:"flushes"`
	Dropped   int64 `json:"dropped"`
}

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// eventRow represents a row to be inserted into the central_events table.
type eventRow struct {
	ID          string
	Type        string
	OccurredAt  int64 // Microseconds since epoch
	ChannelID   int32
	AccountID   int32
	CharacterID int32
	PartyID     int32
	Detail      string
}

const insertEvent = `
	INSERT INTO central_events (id, type, occurred_at, channel_id, account_id, character_id, party_id, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
`
