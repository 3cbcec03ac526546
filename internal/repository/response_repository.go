package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cleslab/cles-backend/internal/model"
)

// ResponseRepository handles per-question response data access.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// Insert stores one response. The same question may be written twice if a
// queued command is retried; the UPSERT keeps the latest write.
func (r *ResponseRepository) Insert(ctx context.Context, resp *model.Response) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO responses (session_id, question_id, q_index, answer, correct,
		                        time_ms, hints_used, extra_time_used, skipped, metrics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id, q_index) DO UPDATE
		 SET answer = EXCLUDED.answer, correct = EXCLUDED.correct,
		     time_ms = EXCLUDED.time_ms, hints_used = EXCLUDED.hints_used,
		     extra_time_used = EXCLUDED.extra_time_used, skipped = EXCLUDED.skipped,
		     metrics = EXCLUDED.metrics`,
		resp.SessionID, resp.QuestionID, resp.QIndex, resp.Answer, resp.Correct,
		resp.TimeMs, resp.HintsUsed, resp.ExtraTimeUsed, resp.Skipped, resp.Metrics,
	)
	return err
}

// ListBySession retrieves a session's responses in question order.
func (r *ResponseRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id, q_index, answer, correct,
		        time_ms, hints_used, extra_time_used, skipped, metrics, created_at
		 FROM responses WHERE session_id = $1
		 ORDER BY q_index`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(
			&resp.ID, &resp.SessionID, &resp.QuestionID, &resp.QIndex, &resp.Answer, &resp.Correct,
			&resp.TimeMs, &resp.HintsUsed, &resp.ExtraTimeUsed, &resp.Skipped, &resp.Metrics, &resp.CreatedAt,
		); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
