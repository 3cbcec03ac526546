// Package outbox is the one-way outbound queue of persistence commands.
// The session engine produces onto it fire-and-forget; scoring correctness
// never depends on these writes landing.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/config"
	"github.com/cleslab/cles-backend/internal/eventlog"
)

// ResponsePayload is the queued form of a per-question response write.
type ResponsePayload struct {
	SessionID     uuid.UUID       `json:"session_id"`
	QuestionID    uuid.UUID       `json:"question_id"`
	QIndex        int             `json:"q_index"`
	Answer        json.RawMessage `json:"answer,omitempty"`
	Correct       bool            `json:"correct"`
	TimeMs        int64           `json:"time_ms"`
	HintsUsed     int             `json:"hints_used"`
	ExtraTimeUsed bool            `json:"extra_time_used"`
	Skipped       bool            `json:"skipped"`
	Metrics       json.RawMessage `json:"metrics,omitempty"`
}

// EventPayload is the queued form of an event write.
type EventPayload struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	TimestampMs   int64           `json:"timestamp_ms"`
	Type          string          `json:"type"`
	QuestionIndex int             `json:"question_index"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ScorePayload is the queued form of a final-score update.
type ScorePayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Score     float64   `json:"score"`
}

// Outbox enqueues persistence commands. Implementations must be safe for
// concurrent use and must never surface failures to the caller.
type Outbox interface {
	PersistResponse(ctx context.Context, p ResponsePayload)
	PersistEvent(ctx context.Context, ev eventlog.Event)
	PersistScore(ctx context.Context, sessionID uuid.UUID, score float64)
}

// RedisOutbox pushes JSON commands onto the worker queues.
type RedisOutbox struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisOutbox creates a RedisOutbox.
func NewRedisOutbox(rdb *redis.Client, log zerolog.Logger) *RedisOutbox {
	return &RedisOutbox{
		rdb: rdb,
		log: log.With().Str("component", "outbox").Logger(),
	}
}

// PersistResponse queues a response insert.
func (o *RedisOutbox) PersistResponse(ctx context.Context, p ResponsePayload) {
	o.push(ctx, config.WorkerKey.PersistResponsesQueue, p)
}

// PersistEvent queues an event insert.
func (o *RedisOutbox) PersistEvent(ctx context.Context, ev eventlog.Event) {
	var payload json.RawMessage
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			o.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("event payload not serializable, persisting without it")
		} else {
			payload = raw
		}
	}
	o.push(ctx, config.WorkerKey.PersistEventsQueue, EventPayload{
		ID:            ev.ID,
		SessionID:     ev.SessionID,
		TimestampMs:   ev.TimestampMs,
		Type:          string(ev.Type),
		QuestionIndex: ev.QuestionIndex,
		Payload:       payload,
	})
}

// PersistScore queues a final-score update.
func (o *RedisOutbox) PersistScore(ctx context.Context, sessionID uuid.UUID, score float64) {
	o.push(ctx, config.WorkerKey.PersistScoresQueue, ScorePayload{SessionID: sessionID, Score: score})
}

func (o *RedisOutbox) push(ctx context.Context, queue string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		o.log.Error().Err(err).Str("queue", queue).Msg("marshal outbox command")
		return
	}
	if err := o.rdb.RPush(ctx, queue, raw).Err(); err != nil {
		// Log-and-continue: the in-memory session state is the source of
		// truth; a lost mirror write must not abort session progress.
		o.log.Warn().Err(err).Str("queue", queue).Msg("enqueue outbox command failed")
	}
}
