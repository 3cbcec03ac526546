// Package worker holds the background consumers of the Redis persistence
// queues. Workers are the only writers of responses, events, and final
// scores; the session engine never touches PostgreSQL directly.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/config"
	"github.com/cleslab/cles-backend/internal/model"
	"github.com/cleslab/cles-backend/internal/outbox"
	"github.com/cleslab/cles-backend/internal/repository"
)

// ResponseWorker consumes persist_responses_queue and writes per-question
// responses to PostgreSQL.
type ResponseWorker struct {
	repo *repository.ResponseRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewResponseWorker creates a new ResponseWorker.
func NewResponseWorker(repo *repository.ResponseRepository, rdb *redis.Client, log zerolog.Logger) *ResponseWorker {
	return &ResponseWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "response_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ResponseWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ResponseWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistResponsesQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload outbox.ResponsePayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persist(ctx, &payload); err != nil {
		w.log.Error().Err(err).
			Str("session_id", payload.SessionID.String()).
			Int("q_index", payload.QIndex).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistResponsesQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ResponseWorker) persist(ctx context.Context, p *outbox.ResponsePayload) error {
	return w.repo.Insert(ctx, &model.Response{
		SessionID:     p.SessionID,
		QuestionID:    p.QuestionID,
		QIndex:        p.QIndex,
		Answer:        p.Answer,
		Correct:       p.Correct,
		TimeMs:        p.TimeMs,
		HintsUsed:     p.HintsUsed,
		ExtraTimeUsed: p.ExtraTimeUsed,
		Skipped:       p.Skipped,
		Metrics:       p.Metrics,
	})
}

// drain processes all remaining items in the queue before shutdown.
func (w *ResponseWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistResponsesQueue).Result()
		if err != nil {
			break
		}

		var payload outbox.ResponsePayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persist(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistResponsesQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
