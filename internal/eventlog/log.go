package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mirror receives every recorded event for durable persistence. It must not
// block for long and must never be allowed to fail the recording flow; the
// log swallows nothing itself but mirrors are fire-and-forget.
type Mirror func(Event)

// Log accumulates a session's events in order. Recording never fails the
// caller: a broken mirror only logs a warning.
type Log struct {
	mu        sync.Mutex
	sessionID uuid.UUID
	events    []Event
	mirror    Mirror
	now       func() time.Time
	log       zerolog.Logger
}

// New creates an empty log for one session. mirror may be nil.
func New(sessionID uuid.UUID, mirror Mirror, now func() time.Time, log zerolog.Logger) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		sessionID: sessionID,
		mirror:    mirror,
		now:       now,
		log:       log.With().Str("component", "eventlog").Logger(),
	}
}

// Record appends an event with a monotonic timestamp and hands it to the
// mirror. Use SessionScopeIndex for events not tied to a question.
func (l *Log) Record(t Type, questionIndex int, payload map[string]any) Event {
	l.mu.Lock()
	ts := l.now().UnixMilli()
	// Clamp so timestamps never go backwards within one log even if the
	// wall clock does.
	if n := len(l.events); n > 0 && ts < l.events[n-1].TimestampMs {
		ts = l.events[n-1].TimestampMs
	}
	ev := Event{
		ID:            uuid.New(),
		SessionID:     l.sessionID,
		TimestampMs:   ts,
		Type:          t,
		QuestionIndex: questionIndex,
		Payload:       payload,
	}
	l.events = append(l.events, ev)
	mirror := l.mirror
	l.mu.Unlock()

	if mirror != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Warn().Interface("panic", r).Str("type", string(t)).Msg("event mirror panicked")
				}
			}()
			mirror(ev)
		}()
	}
	return ev
}

// Events returns a copy of the accumulated event list in record order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
