package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cleslab/cles-backend/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SessionRepository handles session row data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, subtopic_id, mode, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.SubtopicID, s.Mode, s.Status, s.StartedAt,
	)
	return err
}

// Finish marks a session completed. The final score lands separately via
// the score worker.
func (r *SessionRepository) Finish(ctx context.Context, id uuid.UUID, finishedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, finished_at = $2 WHERE id = $3`,
		model.SessionStatusCompleted, finishedAt, id,
	)
	return err
}

// UpdateScore writes the final score.
func (r *SessionRepository) UpdateScore(ctx context.Context, id uuid.UUID, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET final_score = $1 WHERE id = $2`,
		score, id,
	)
	return err
}

// GetByID retrieves one session row.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, subtopic_id, mode, status, started_at, finished_at, final_score
		 FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.UserID, &s.SubtopicID, &s.Mode, &s.Status, &s.StartedAt, &s.FinishedAt, &s.FinalScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByUser retrieves a user's sessions, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, subtopic_id, mode, status, started_at, finished_at, final_score
		 FROM sessions WHERE user_id = $1
		 ORDER BY started_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.SubtopicID, &s.Mode, &s.Status, &s.StartedAt, &s.FinishedAt, &s.FinalScore); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
