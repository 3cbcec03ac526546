package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/config"
	"github.com/cleslab/cles-backend/internal/outbox"
	"github.com/cleslab/cles-backend/internal/repository"
)

const (
	EventBatchSize    = 100
	EventBatchTimeout = 2 * time.Second
	EventPollTimeout  = 1 * time.Second
)

// EventWorker consumes persist_events_queue and bulk-inserts interaction
// events. Events arrive at every click and tick warning, so writes are
// batched into single UNNEST inserts.
type EventWorker struct {
	repo *repository.EventRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(repo *repository.EventRepository, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "event_worker").Logger(),
	}
}

// Start begins the batching worker loop. Call in a goroutine.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	batch := make([]outbox.EventPayload, 0, EventBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= EventBatchSize || time.Since(lastFlush) >= EventBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			return

		default:
			item, err := w.rdb.BLPop(ctx, EventPollTimeout, config.WorkerKey.PersistEventsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p outbox.EventPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, p)
		}
	}
}

func (w *EventWorker) flushSafe(ctx context.Context, batch []outbox.EventPayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.repo.BulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("bulk event insert failed, requeueing")
		for _, p := range batch {
			raw, _ := json.Marshal(p)
			w.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw)
		}
	}
}

// drain flushes whatever is left on the queue in one final batch.
func (w *EventWorker) drain(ctx context.Context) {
	batch := make([]outbox.EventPayload, 0, EventBatchSize)
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistEventsQueue).Result()
		if err != nil {
			break
		}

		var p outbox.EventPayload
		if err := json.Unmarshal([]byte(result), &p); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		batch = append(batch, p)

		if len(batch) >= EventBatchSize {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
		}
	}
	w.flushSafe(ctx, batch)
}
