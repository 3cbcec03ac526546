package eventlog

import (
	"sort"

	"github.com/google/uuid"
)

// Counts tallies event occurrences per known type for one question.
// Unknown types land in Other, never silently dropped.
type Counts struct {
	StressorShow     int `json:"stressor_show"`
	StressorDismiss  int `json:"stressor_dismiss"`
	TenSecondWarning int `json:"ten_second_warning"`
	TimeUpModalOpen  int `json:"time_up_modal_open"`
	ChooseExtraTime  int `json:"choose_extra_time"`
	ChooseSkip       int `json:"choose_skip"`
	RestSuggest      int `json:"rest_suggest"`
	RestStart        int `json:"rest_start"`
	RestResume       int `json:"rest_resume"`
	HintOffer        int `json:"hint_offer"`
	HintOpen         int `json:"hint_open"`
	ExampleOpen      int `json:"example_open"`
	AnswerSubmit     int `json:"answer_submit"`
	RevealShow       int `json:"reveal_show"`
	NextClick        int `json:"next_click"`
	DeviceAlert      int `json:"device_alert"`
	Other            int `json:"other"`
}

// QuestionSummary is the per-question behavior rebuilt purely from events,
// independent of live engine state (supports offline report generation).
type QuestionSummary struct {
	QuestionIndex int    `json:"question_index"`
	Counts        Counts `json:"counts"`
	TotalEvents   int    `json:"total_events"`
	HintsUsed     int    `json:"hints_used"`
	ExampleUsed   bool   `json:"example_used"`
	ExtraTimeUsed bool   `json:"extra_time_used"`
	Skipped       bool   `json:"skipped"`
	TimeSpentMs   int64  `json:"time_spent_ms"`
	PointsAwarded int    `json:"points_awarded"`
}

// SessionSummary aggregates question summaries with session-level counters.
type SessionSummary struct {
	SessionID         uuid.UUID         `json:"session_id"`
	TotalQuestions    int               `json:"total_questions"`
	Questions         []QuestionSummary `json:"questions"`
	SessionStartCount int               `json:"session_start_count"`
	SessionEndCount   int               `json:"session_end_count"`
	TotalEvents       int               `json:"total_events"`
	TotalTimeMs       int64             `json:"total_time_ms"`
	TotalPoints       int               `json:"total_points"`
}

// SummarizeByQuestion groups events by question index and derives the
// per-question summary. Questions in [0, questionCount) always get a bucket
// even with zero events; indices outside that range get their own bucket
// rather than being discarded. Arrival order does not matter: the
// answer_submit with the highest timestamp wins for time/points extraction
// (later arrival breaks ties).
func SummarizeByQuestion(events []Event, questionCount int) []QuestionSummary {
	buckets := make(map[int]*QuestionSummary)
	for i := 0; i < questionCount; i++ {
		buckets[i] = &QuestionSummary{QuestionIndex: i}
	}
	// Timestamp of the winning answer_submit per question.
	bestSubmit := make(map[int]int64)

	for _, ev := range events {
		if ev.Type == TypeSessionStart || ev.Type == TypeSessionEnd {
			continue
		}
		s, ok := buckets[ev.QuestionIndex]
		if !ok {
			s = &QuestionSummary{QuestionIndex: ev.QuestionIndex}
			buckets[ev.QuestionIndex] = s
		}
		s.TotalEvents++

		switch ev.Type {
		case TypeStressorShow:
			s.Counts.StressorShow++
		case TypeStressorDismiss:
			s.Counts.StressorDismiss++
		case TypeTenSecondWarning:
			s.Counts.TenSecondWarning++
		case TypeTimeUpModalOpen:
			s.Counts.TimeUpModalOpen++
		case TypeChooseExtraTime:
			s.Counts.ChooseExtraTime++
			s.ExtraTimeUsed = true
		case TypeChooseSkip:
			s.Counts.ChooseSkip++
			s.Skipped = true
		case TypeRestSuggest:
			s.Counts.RestSuggest++
		case TypeRestStart:
			s.Counts.RestStart++
		case TypeRestResume:
			s.Counts.RestResume++
		case TypeHintOffer:
			s.Counts.HintOffer++
		case TypeHintOpen:
			s.Counts.HintOpen++
			s.HintsUsed++
		case TypeExampleOpen:
			s.Counts.ExampleOpen++
			s.ExampleUsed = true
		case TypeAnswerSubmit:
			s.Counts.AnswerSubmit++
			if ts, seen := bestSubmit[ev.QuestionIndex]; !seen || ev.TimestampMs >= ts {
				bestSubmit[ev.QuestionIndex] = ev.TimestampMs
				s.TimeSpentMs = payloadInt64(ev.Payload, "time_spent_ms")
				s.PointsAwarded = int(payloadInt64(ev.Payload, "points_awarded"))
			}
		case TypeRevealShow:
			s.Counts.RevealShow++
		case TypeNextClick:
			s.Counts.NextClick++
		case TypeDeviceAlert:
			s.Counts.DeviceAlert++
		default:
			s.Counts.Other++
		}
	}

	out := make([]QuestionSummary, 0, len(buckets))
	for _, s := range buckets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out
}

// SummarizeSession aggregates per-question summaries into session totals.
func SummarizeSession(sessionID uuid.UUID, events []Event, questionCount int) SessionSummary {
	questions := SummarizeByQuestion(events, questionCount)

	sum := SessionSummary{
		SessionID:      sessionID,
		TotalQuestions: len(questions),
		Questions:      questions,
		TotalEvents:    len(events),
	}
	for _, ev := range events {
		switch ev.Type {
		case TypeSessionStart:
			sum.SessionStartCount++
		case TypeSessionEnd:
			sum.SessionEndCount++
		}
	}
	for _, q := range questions {
		sum.TotalTimeMs += q.TimeSpentMs
		sum.TotalPoints += q.PointsAwarded
	}
	return sum
}

// payloadInt64 reads a numeric payload field, tolerating the types that
// survive a JSON round trip.
func payloadInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
