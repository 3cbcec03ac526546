package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cleslab/cles-backend/internal/eventlog"
	"github.com/cleslab/cles-backend/internal/outbox"
)

// EventRepository handles interaction event data access.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// BulkInsert writes a batch of events in one round trip using UNNEST.
// Duplicate IDs from retried queue items are ignored.
func (r *EventRepository) BulkInsert(ctx context.Context, events []outbox.EventPayload) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(events))
	sessionIDs := make([]uuid.UUID, len(events))
	timestamps := make([]int64, len(events))
	types := make([]string, len(events))
	qIndexes := make([]int32, len(events))
	payloads := make([][]byte, len(events))

	for i, ev := range events {
		ids[i] = ev.ID
		sessionIDs[i] = ev.SessionID
		timestamps[i] = ev.TimestampMs
		types[i] = ev.Type
		qIndexes[i] = int32(ev.QuestionIndex)
		payloads[i] = ev.Payload
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO events (id, session_id, timestamp_ms, type, question_index, payload)
		 SELECT * FROM UNNEST($1::uuid[], $2::uuid[], $3::bigint[], $4::text[], $5::int[], $6::jsonb[])
		 ON CONFLICT (id) DO NOTHING`,
		ids, sessionIDs, timestamps, types, qIndexes, payloads,
	)
	return err
}

// ListBySession retrieves a session's events in timestamp order, rebuilding
// the in-memory event form.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]eventlog.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, timestamp_ms, type, question_index, payload
		 FROM events WHERE session_id = $1
		 ORDER BY timestamp_ms, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var (
			ev  eventlog.Event
			typ string
			raw []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.TimestampMs, &typ, &ev.QuestionIndex, &raw); err != nil {
			return nil, err
		}
		ev.Type = eventlog.Type(typ)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
