package session

import (
	"github.com/google/uuid"

	"github.com/cleslab/cles-backend/internal/eventlog"
	"github.com/cleslab/cles-backend/internal/model"
)

// Snapshot is the engine state pushed to the UI after every mutation.
type Snapshot struct {
	SessionID            uuid.UUID         `json:"session_id"`
	Mode                 model.SessionMode `json:"mode"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	QuestionCount        int               `json:"question_count"`

	TimeRemaining int  `json:"time_remaining"`
	OriginalLimit int  `json:"original_limit"`
	IsRunning     bool `json:"is_running"`
	IsPaused      bool `json:"is_paused"`
	HasWarned     bool `json:"has_warned"`
	HasTimedOut   bool `json:"has_timed_out"`

	ShowReveal            bool   `json:"show_reveal"`
	ShowTimeUpModal       bool   `json:"show_time_up_modal"`
	ShowStressor          bool   `json:"show_stressor"`
	StressorMessage       string `json:"stressor_message,omitempty"`
	ShowSkipConfirmation  bool   `json:"show_skip_confirmation"`
	ShowExtraTimeFeedback bool   `json:"show_extra_time_feedback"`
	ExtraTimeAdded        int    `json:"extra_time_added"`
	ShowSupportPopup      bool   `json:"show_support_popup"`
	ShowRestSuggestion    bool   `json:"show_rest_suggestion"`
	RestActive            bool   `json:"rest_active"`

	HintsUsed      []int  `json:"hints_used"`
	ExampleUsed    []bool `json:"example_used"`
	ExtraTimeUsed  []bool `json:"extra_time_used"`
	Scores         []int  `json:"scores"`
	TotalScore     int    `json:"total_score"`
	TotalPenalties int    `json:"total_penalties"`
	IsCompleted    bool   `json:"is_completed"`
}

// Result is the terminal session summary handed to the reporting layer.
type Result struct {
	SessionID         uuid.UUID       `json:"session_id"`
	FinalScore        float64         `json:"final_score"`
	Percentage        float64         `json:"percentage"`
	QuestionsAnswered int             `json:"questions_answered"`
	QuestionsSkipped  int             `json:"questions_skipped"`
	HintsUsed         int             `json:"hints_used"`
	ExtraTimeRequests int             `json:"extra_time_requests"`
	Events            []eventlog.Event `json:"events"`
}
