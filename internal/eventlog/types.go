// Package eventlog is the append-only record of session interactions and
// the summarization logic that rebuilds per-question behavior from it.
package eventlog

import (
	"github.com/google/uuid"
)

// Type is the closed set of interaction event types.
type Type string

const (
	TypeStressorShow     Type = "stressor_show"
	TypeStressorDismiss  Type = "stressor_dismiss"
	TypeTenSecondWarning Type = "ten_second_warning"
	TypeTimeUpModalOpen  Type = "time_up_modal_open"
	TypeChooseExtraTime  Type = "choose_extra_time"
	TypeChooseSkip       Type = "choose_skip"
	TypeRestSuggest      Type = "rest_suggest"
	TypeRestStart        Type = "rest_start"
	TypeRestResume       Type = "rest_resume"
	TypeHintOffer        Type = "hint_offer"
	TypeHintOpen         Type = "hint_open"
	TypeExampleOpen      Type = "example_open"
	TypeAnswerSubmit     Type = "answer_submit"
	TypeRevealShow       Type = "reveal_show"
	TypeNextClick        Type = "next_click"
	TypeDeviceAlert      Type = "device_alert"
	TypeSessionStart     Type = "session_start"
	TypeSessionEnd       Type = "session_end"
)

// SessionScopeIndex tags events that belong to the session as a whole
// rather than to one question.
const SessionScopeIndex = -1

// Event is one immutable log entry. Events are never mutated or deleted
// after creation, only superseded by later events.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	SessionID     uuid.UUID      `json:"session_id"`
	TimestampMs   int64          `json:"timestamp_ms"`
	Type          Type           `json:"type"`
	QuestionIndex int            `json:"question_index"`
	Payload       map[string]any `json:"payload,omitempty"`
}
