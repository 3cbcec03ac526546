package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionMode selects whether support tooling (hints, examples, stressor
// banners, rest nudges) is available during the session.
type SessionMode string

const (
	ModeSupport   SessionMode = "support"
	ModeNoSupport SessionMode = "no_support"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	return m == ModeSupport || m == ModeNoSupport
}

// SessionStatus enumerates learning session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// Session is the persisted session row. The in-memory engine state is the
// source of truth while a session is live; this row is its async mirror.
type Session struct {
	ID         uuid.UUID     `json:"id"`
	UserID     uuid.UUID     `json:"user_id"`
	SubtopicID uuid.UUID     `json:"subtopic_id"`
	Mode       SessionMode   `json:"mode"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Status     SessionStatus `json:"status"`
	FinalScore *float64      `json:"final_score,omitempty"`
}

// StartSessionRequest is the payload for starting a new session.
type StartSessionRequest struct {
	UserID     string `json:"user_id" binding:"required,uuid"`
	SubtopicID string `json:"subtopic_id" binding:"required,uuid"`
	Mode       string `json:"mode" binding:"required,oneof=support no_support"`
}

// SubmitAnswerRequest is the payload for submitting an answer.
type SubmitAnswerRequest struct {
	Answer Answer `json:"answer" binding:"required"`
}

// HintRequest is the payload for opening a hint or the worked example.
type HintRequest struct {
	Kind string `json:"kind" binding:"required,oneof=hint example"`
}
