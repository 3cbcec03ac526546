package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cleslab/cles-backend/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListBySubtopic retrieves the enabled questions for a subtopic in ascending
// difficulty, which matches the schedule's easy-to-hard ordering.
func (r *QuestionRepository) ListBySubtopic(ctx context.Context, subtopicID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subtopic_id, qtype, difficulty, prompt, image_url,
		        hints, example, explanation, options, pairs_left, pairs_right,
		        sequence, answer_key, enabled
		 FROM questions
		 WHERE subtopic_id = $1 AND enabled = TRUE
		 ORDER BY difficulty, id`, subtopicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q                                  model.Question
			hints, options                     []byte
			pairsLeft, pairsRight, sequence    []byte
			answerKey                          []byte
		)
		if err := rows.Scan(
			&q.ID, &q.SubtopicID, &q.Type, &q.Difficulty, &q.Prompt, &q.ImageURL,
			&hints, &q.Example, &q.Explanation, &options, &pairsLeft, &pairsRight,
			&sequence, &answerKey, &q.Enabled,
		); err != nil {
			return nil, err
		}
		if err := decodeJSONColumns(&q, hints, options, pairsLeft, pairsRight, sequence, answerKey); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	hints, _ := json.Marshal(q.Hints)
	options, _ := json.Marshal(q.Options)
	pairsLeft, _ := json.Marshal(q.PairsLeft)
	pairsRight, _ := json.Marshal(q.PairsRight)
	sequence, _ := json.Marshal(q.Sequence)
	answerKey, _ := json.Marshal(q.AnswerKey)

	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (subtopic_id, qtype, difficulty, prompt, image_url,
		                        hints, example, explanation, options, pairs_left,
		                        pairs_right, sequence, answer_key, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		q.SubtopicID, q.Type, q.Difficulty, q.Prompt, q.ImageURL,
		hints, q.Example, q.Explanation, options, pairsLeft,
		pairsRight, sequence, answerKey, q.Enabled,
	).Scan(&q.ID)
}

func decodeJSONColumns(q *model.Question, hints, options, pairsLeft, pairsRight, sequence, answerKey []byte) error {
	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{hints, &q.Hints},
		{options, &q.Options},
		{pairsLeft, &q.PairsLeft},
		{pairsRight, &q.PairsRight},
		{sequence, &q.Sequence},
		{answerKey, &q.AnswerKey},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return err
		}
	}
	return nil
}
