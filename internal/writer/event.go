package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/queue"
)

// EventWriter buffers audit events and writes them in batches. It
// implements model.EventRecorder.
type EventWriter struct {
	cfg    Config
	logger *slog.Logger

	input *queue.Queue[model.Event]
	db    BatchSender

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Stats
}

// NewEventWriter creates a new EventWriter.
func NewEventWriter(cfg Config, db BatchSender, logger *slog.Logger) *EventWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWriter{
		cfg:    cfg,
		logger: logger.With("component", "event_writer"),
		input:  queue.New[model.Event](cfg.BatchSize),
		db:     db,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Record queues e for writing. It never blocks.
func (w *EventWriter) Record(e model.Event) {
	if w.input.Len() >= w.cfg.BufferSize {
		w.drop()
		return
	}
	if _, ok := w.input.Push(e); !ok {
		w.drop()
	}
}

func (w *EventWriter) drop() {
	w.batchMu.Lock()
	w.metrics.Dropped++
	w.batchMu.Unlock()
}

// Start begins consuming events and writing to the database.
func (w *EventWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("event writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, writes them, and shuts down the writer.
func (w *EventWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping event writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event writer stop timed out")
	}

	// Final flush
	for _, e := range w.input.TryPopBatch(0) {
		w.add(e)
	}
	w.flush(ctx)

	w.logger.Info("event writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *EventWriter) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves events from the queue into the batch until the queue
// is closed.
func (w *EventWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		events, ok := w.input.PopBatch(w.cfg.BatchSize)
		if !ok {
			return
		}
		for _, e := range events {
			// Once stopping, Stop writes what is left with its own context.
			if w.add(e) && w.ctx.Err() == nil {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *EventWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends e to the batch and reports whether the batch is full.
func (w *EventWriter) add(e model.Event) bool {
	row := transform(e)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func transform(e model.Event) eventRow {
	return eventRow{
		ID:          e.ID.String(),
		Type:        string(e.Type),
		OccurredAt:  e.OccurredAt.UnixMicro(),
		ChannelID:   e.ChannelID,
		AccountID:   e.AccountID,
		CharacterID: e.CharacterID,
		PartyID:     e.PartyID,
		Detail:      e.Detail,
	}
}

// flush writes the current batch to the database.
func (w *EventWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *EventWriter) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent,
			r.ID, r.Type, r.OccurredAt, r.ChannelID, r.AccountID, r.CharacterID, r.PartyID, r.Detail)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
