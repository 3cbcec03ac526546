package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Response is the persisted per-question outcome (answered or skipped).
type Response struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	QuestionID    uuid.UUID       `json:"question_id"`
	QIndex        int             `json:"q_index"`
	Answer        json.RawMessage `json:"answer,omitempty"` // nil for skipped questions
	Correct       bool            `json:"correct"`
	TimeMs        int64           `json:"time_ms"`
	HintsUsed     int             `json:"hints_used"`
	ExtraTimeUsed bool            `json:"extra_time_used"`
	Skipped       bool            `json:"skipped"`
	Metrics       json.RawMessage `json:"metrics,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ResponseMetrics is the penalty breakdown stored alongside a response.
type ResponseMetrics struct {
	HintPenalty      int  `json:"hint_penalty"`
	ExamplePenalty   int  `json:"example_penalty"`
	ExtraTimePenalty int  `json:"extra_time_penalty"`
	PointsAwarded    int  `json:"points_awarded"`
	Skipped          bool `json:"skipped,omitempty"`
}
