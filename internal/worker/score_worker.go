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

// ScoreWorker consumes persist_scores_queue and writes final scores. One
// item per session, so no batching.
type ScoreWorker struct {
	repo *repository.SessionRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewScoreWorker creates a new ScoreWorker.
func NewScoreWorker(repo *repository.SessionRepository, rdb *redis.Client, log zerolog.Logger) *ScoreWorker {
	return &ScoreWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "score_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ScoreWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ScoreWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistScoresQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload outbox.ScorePayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.repo.UpdateScore(ctx, payload.SessionID, payload.Score); err != nil {
		w.log.Error().Err(err).
			Str("session_id", payload.SessionID.String()).
			Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *ScoreWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistScoresQueue).Result()
		if err != nil {
			break
		}

		var payload outbox.ScorePayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.repo.UpdateScore(ctx, payload.SessionID, payload.Score); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
