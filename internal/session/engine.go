// Package session implements the per-session orchestration engine: question
// progression, scoring and penalties, hint/example gating, extra time, skip,
// stressor banners, support popups, and rest nudges. One Engine instance
// owns one live session; all mutations funnel through its mutex.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/eventlog"
	"github.com/cleslab/cles-backend/internal/model"
	"github.com/cleslab/cles-backend/internal/outbox"
	"github.com/cleslab/cles-backend/internal/schedule"
	"github.com/cleslab/cles-backend/internal/signal"
	"github.com/cleslab/cles-backend/internal/timer"
)

var (
	ErrCompleted       = errors.New("session already completed")
	ErrRevealActive    = errors.New("answer already submitted for this question")
	ErrNoReveal        = errors.New("no answer submitted yet")
	ErrHintLimit       = errors.New("hint limit reached")
	ErrExampleUsed     = errors.New("worked example already opened")
	ErrExtraTimeUsed   = errors.New("extra time already granted for this question")
	ErrNoTimeUpChoice  = errors.New("no time-up choice pending")
	ErrNoOfferPending  = errors.New("no support offer pending")
	ErrNoRestPending   = errors.New("no rest suggestion or active rest")
	ErrModeNoSupport   = errors.New("support features disabled for this session")
	ErrInvalidHintKind = errors.New("unknown hint kind")
)

// MaxHintsPerQuestion caps hint opens for one question.
const MaxHintsPerQuestion = 3

// SignalSink receives question boundary marks and compute triggers. The
// engine only enqueues; delivery order is the sink's problem.
type SignalSink interface {
	MarkQuestionStart(sessionID uuid.UUID, qIndex int, tsMs int64)
	MarkQuestionEnd(sessionID uuid.UUID, qIndex int, tsMs int64)
	ComputeQuestion(sessionID uuid.UUID, qIndex int)
	ComputeSession(sessionID uuid.UUID)
}

// AttentionSource reports the latest attention status for rest-nudge gating.
type AttentionSource interface {
	Status() signal.AttentionStatus
}

// Config carries everything an Engine needs. Clock and Rand are injectable
// so tests run deterministically; nil falls back to real time and a
// time-seeded source.
type Config struct {
	SessionID  uuid.UUID
	UserID     uuid.UUID
	SubtopicID uuid.UUID
	Mode       model.SessionMode
	Questions  []model.Question
	Schedule   []schedule.Entry

	Clock     timer.Clock
	Rand      *rand.Rand
	Outbox    outbox.Outbox
	Signals   SignalSink
	Attention AttentionSource
	Logger    zerolog.Logger
}

// Engine orchestrates one session from Start through EndSession.
type Engine struct {
	mu sync.Mutex

	sessionID  uuid.UUID
	userID     uuid.UUID
	subtopicID uuid.UUID
	mode       model.SessionMode
	questions  []model.Question
	sched      []schedule.Entry

	clock     timer.Clock
	rng       *rand.Rand
	timer     *timer.Controller
	events    *eventlog.Log
	outbox    outbox.Outbox
	signals   SignalSink
	attention AttentionSource
	log       zerolog.Logger

	cur       int
	startedAt time.Time
	completed bool
	result    *Result

	// Per-question bookkeeping, indexed by question.
	hintsUsed         []int
	exampleUsed       []bool
	extraTimeUsed     []bool
	extraSeconds      []int
	scores            []int
	skipped           []bool
	answered          []bool
	supportPopupShown []bool
	restSuggested     []bool
	stressorDismissed []bool

	totalScore     int
	totalPenalties int

	// Transient UI flags for the current question.
	showReveal            bool
	showTimeUpModal       bool
	showStressor          bool
	stressorMessage       string
	showSkipConfirmation  bool
	showExtraTimeFeedback bool
	extraTimeAdded        int
	showSupportPopup      bool
	showRestSuggestion    bool
	restActive            bool
	restStartedAt         time.Time
	distractedStreak      int

	stressorCancel timer.StopFunc
	feedbackCancel timer.StopFunc

	subs []chan Snapshot
}

// New validates the config and builds an Engine. The session holds a prefix
// of the schedule: fewer questions than entries is fine, more is an error.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Questions) == 0 {
		return nil, errors.New("session has no questions")
	}
	if err := schedule.Validate(cfg.Schedule); err != nil {
		return nil, err
	}
	if len(cfg.Questions) > len(cfg.Schedule) {
		return nil, errors.New("more questions than schedule entries")
	}
	if !cfg.Mode.Valid() {
		return nil, errors.New("invalid session mode")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timer.RealClock{}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	n := len(cfg.Questions)
	e := &Engine{
		sessionID:  cfg.SessionID,
		userID:     cfg.UserID,
		subtopicID: cfg.SubtopicID,
		mode:       cfg.Mode,
		questions:  cfg.Questions,
		sched:      cfg.Schedule,

		clock:     clock,
		rng:       rng,
		timer:     timer.New(clock),
		outbox:    cfg.Outbox,
		signals:   cfg.Signals,
		attention: cfg.Attention,
		log: cfg.Logger.With().
			Str("component", "session_engine").
			Str("session_id", cfg.SessionID.String()).
			Logger(),

		hintsUsed:         make([]int, n),
		exampleUsed:       make([]bool, n),
		extraTimeUsed:     make([]bool, n),
		extraSeconds:      make([]int, n),
		scores:            make([]int, n),
		skipped:           make([]bool, n),
		answered:          make([]bool, n),
		supportPopupShown: make([]bool, n),
		restSuggested:     make([]bool, n),
		stressorDismissed: make([]bool, n),
	}

	var mirror eventlog.Mirror
	if cfg.Outbox != nil {
		ob := cfg.Outbox
		mirror = func(ev eventlog.Event) {
			ob.PersistEvent(context.Background(), ev)
		}
	}
	e.events = eventlog.New(cfg.SessionID, mirror, clock.Now, cfg.Logger)

	return e, nil
}

// Start records session_start and begins the first question's countdown.
func (e *Engine) Start() {
	e.mu.Lock()
	e.startedAt = e.clock.Now()
	e.events.Record(eventlog.TypeSessionStart, eventlog.SessionScopeIndex, map[string]any{
		"mode":           string(e.mode),
		"question_count": len(e.questions),
	})
	e.log.Info().Str("mode", string(e.mode)).Int("questions", len(e.questions)).Msg("Session started")
	e.startQuestionLocked()
	e.mu.Unlock()
}

// startQuestionLocked resets transient state and arms the countdown for the
// current question. Caller holds e.mu.
func (e *Engine) startQuestionLocked() {
	e.cancelTimersLocked()
	e.showReveal = false
	e.showTimeUpModal = false
	e.showStressor = false
	e.stressorMessage = ""
	e.showSkipConfirmation = false
	e.showExtraTimeFeedback = false
	e.extraTimeAdded = 0
	e.showSupportPopup = false
	e.showRestSuggestion = false
	e.restActive = false
	e.distractedStreak = 0

	idx := e.cur
	limit := e.sched[idx].LimitSec
	e.timer.Initialize(idx, limit, timer.Callbacks{
		OnTick:    func(left int) { e.handleTick(idx, left) },
		OnWarning: func(left int) { e.handleWarning(idx, left) },
		OnTimeout: func() { e.handleTimeout(idx) },
	})
	e.timer.Start()

	if e.signals != nil {
		e.signals.MarkQuestionStart(e.sessionID, idx, e.clock.Now().UnixMilli())
	}
	e.scheduleStressorLocked()
	e.notifyLocked()
}

// scheduleStressorLocked arms the one-shot stressor banner at a uniformly
// random offset within [25%, 50%] of the question's time limit. Support
// mode only. Caller holds e.mu.
func (e *Engine) scheduleStressorLocked() {
	if e.mode != model.ModeSupport {
		return
	}
	limit := float64(e.sched[e.cur].LimitSec)
	span := schedule.StressorWindowMax - schedule.StressorWindowMin
	offset := limit * (schedule.StressorWindowMin + e.rng.Float64()*span)
	msg := stressorMessages[e.rng.Intn(len(stressorMessages))]

	idx := e.cur
	e.stressorCancel = e.clock.AfterFunc(time.Duration(offset*float64(time.Second)), func() {
		e.fireStressor(idx, msg)
	})
}

func (e *Engine) fireStressor(idx int, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || e.cur != idx || e.showReveal || e.showTimeUpModal ||
		e.showSkipConfirmation || e.restActive || e.showStressor || e.stressorDismissed[idx] {
		return
	}
	e.showStressor = true
	e.stressorMessage = msg
	e.events.Record(eventlog.TypeStressorShow, idx, map[string]any{"message": msg})
	e.notifyLocked()
}

// DismissStressor hides the banner. Idempotent.
func (e *Engine) DismissStressor() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || !e.showStressor {
		return
	}
	e.showStressor = false
	e.stressorDismissed[e.cur] = true
	e.events.Record(eventlog.TypeStressorDismiss, e.cur, nil)
	e.notifyLocked()
}

func (e *Engine) handleTick(idx, left int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || e.cur != idx {
		return
	}
	e.checkSupportPopupLocked(left)
	e.checkAttentionLocked()
	e.notifyLocked()
}

// checkSupportPopupLocked offers the worked example at exactly 20 seconds
// remaining on the last two questions, once, when the learner looks stuck
// (no example opened, fewer than two hints). Caller holds e.mu.
func (e *Engine) checkSupportPopupLocked(left int) {
	if e.mode != model.ModeSupport || left != 20 {
		return
	}
	n := len(e.questions)
	if n < 2 || e.cur < n-2 {
		return
	}
	if e.supportPopupShown[e.cur] || e.showReveal || e.exampleUsed[e.cur] || e.hintsUsed[e.cur] >= 2 {
		return
	}
	e.supportPopupShown[e.cur] = true
	e.showSupportPopup = true
	e.events.Record(eventlog.TypeHintOffer, e.cur, map[string]any{"hint_type": "example"})
}

// checkAttentionLocked counts consecutive distracted ticks and suggests a
// rest after three in a row. Unknown status never counts. Caller holds e.mu.
func (e *Engine) checkAttentionLocked() {
	if e.mode != model.ModeSupport || e.attention == nil || e.restActive || e.showReveal {
		return
	}
	if e.attention.Status() == signal.StatusDistracted {
		e.distractedStreak++
	} else {
		e.distractedStreak = 0
	}
	if e.distractedStreak >= 3 && !e.restSuggested[e.cur] && !e.showRestSuggestion {
		e.restSuggested[e.cur] = true
		e.showRestSuggestion = true
		e.events.Record(eventlog.TypeRestSuggest, e.cur, map[string]any{"distracted_ticks": e.distractedStreak})
	}
}

func (e *Engine) handleWarning(idx, left int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || e.cur != idx {
		return
	}
	e.events.Record(eventlog.TypeTenSecondWarning, idx, map[string]any{"seconds_left": left})
	e.notifyLocked()
}

func (e *Engine) handleTimeout(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || e.cur != idx || e.showReveal {
		return
	}
	e.showTimeUpModal = true
	e.showStressor = false
	e.events.Record(eventlog.TypeTimeUpModalOpen, idx, nil)
	e.notifyLocked()
}

// SubmitAnswer checks the answer, pauses the countdown, applies scoring, and
// shows the reveal. Every penalty the question incurred (hints, example,
// extra time) is deducted from its points here; the extra-time request also
// charged the flat session-level penalty at grant time.
func (e *Engine) SubmitAnswer(ans model.Answer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if e.showReveal {
		return ErrRevealActive
	}

	idx := e.cur
	q := &e.questions[idx]
	entry := e.sched[idx]

	e.timer.Pause()
	ts := e.timer.State()

	correct := q.Check(ans)
	hintPenalty := e.hintsUsed[idx] * schedule.PenaltyHintPerUse
	examplePenalty := 0
	if e.exampleUsed[idx] {
		examplePenalty = schedule.PenaltyHintPerUse
	}
	extraTimePenalty := 0
	if e.extraTimeUsed[idx] {
		extraTimePenalty = schedule.PenaltyExtraTimeTotal
	}
	points := 0
	if correct {
		points = entry.MaxPoints - hintPenalty - examplePenalty - extraTimePenalty
		if points < 0 {
			points = 0
		}
	}

	e.scores[idx] = points
	e.answered[idx] = true
	e.totalScore += points

	elapsedSec := entry.LimitSec + e.extraSeconds[idx] - ts.TimeRemaining
	if elapsedSec < 0 {
		elapsedSec = 0
	}
	timeMs := int64(elapsedSec) * 1000

	e.showTimeUpModal = false
	e.showStressor = false
	e.showSkipConfirmation = false
	e.showSupportPopup = false
	e.showRestSuggestion = false
	e.showReveal = true
	if e.stressorCancel != nil {
		e.stressorCancel()
		e.stressorCancel = nil
	}

	e.events.Record(eventlog.TypeAnswerSubmit, idx, map[string]any{
		"correct":        correct,
		"time_spent_ms":  timeMs,
		"hints_used":     e.hintsUsed[idx],
		"example_used":   e.exampleUsed[idx],
		"points_awarded": points,
	})
	e.events.Record(eventlog.TypeRevealShow, idx, map[string]any{"correct": correct})

	e.persistResponseLocked(idx, &ans, correct, timeMs, points, false)
	e.markQuestionEndLocked(idx)
	e.notifyLocked()

	e.log.Debug().Int("q_index", idx).Bool("correct", correct).Int("points", points).Msg("answer submitted")
	return nil
}

// UseHint opens the next hint or the worked example. Support mode only;
// hints cap at three per question, the example opens once.
func (e *Engine) UseHint(kind string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if e.mode != model.ModeSupport {
		return ErrModeNoSupport
	}
	if e.showReveal {
		return ErrRevealActive
	}

	idx := e.cur
	switch kind {
	case "hint":
		if e.hintsUsed[idx] >= MaxHintsPerQuestion {
			return ErrHintLimit
		}
		e.hintsUsed[idx]++
		e.events.Record(eventlog.TypeHintOpen, idx, map[string]any{
			"hint_type":  "hint",
			"hint_index": e.hintsUsed[idx] - 1,
		})
	case "example":
		if e.exampleUsed[idx] {
			return ErrExampleUsed
		}
		e.exampleUsed[idx] = true
		e.showSupportPopup = false
		e.events.Record(eventlog.TypeExampleOpen, idx, map[string]any{"hint_type": "example"})
	default:
		return ErrInvalidHintKind
	}

	e.notifyLocked()
	return nil
}

// AcceptSupportOffer takes the popup's offered example. Only valid while
// the popup is showing; counts as the question's one example open.
func (e *Engine) AcceptSupportOffer() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if !e.showSupportPopup {
		return ErrNoOfferPending
	}
	if e.exampleUsed[e.cur] {
		e.showSupportPopup = false
		return ErrExampleUsed
	}
	e.exampleUsed[e.cur] = true
	e.showSupportPopup = false
	e.events.Record(eventlog.TypeExampleOpen, e.cur, map[string]any{
		"hint_type": "example",
		"source":    "popup",
	})
	e.notifyLocked()
	return nil
}

// DismissSupportPopup hides the popup without opening the example.
func (e *Engine) DismissSupportPopup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.showSupportPopup {
		return
	}
	e.showSupportPopup = false
	e.notifyLocked()
}

// RequestExtraTime grants floor(limit × 0.30) extra seconds from the
// time-up modal, un-terminating the countdown, and charges the flat
// session-level penalty; the question's points also drop by the same
// amount at submit. Once per question.
func (e *Engine) RequestExtraTime() error {
	e.mu.Lock()

	if e.completed {
		e.mu.Unlock()
		return ErrCompleted
	}
	if !e.showTimeUpModal {
		e.mu.Unlock()
		return ErrNoTimeUpChoice
	}
	idx := e.cur
	if e.extraTimeUsed[idx] {
		e.mu.Unlock()
		return ErrExtraTimeUsed
	}

	added := e.timer.Extend()
	e.extraTimeUsed[idx] = true
	e.extraSeconds[idx] += added
	e.totalPenalties += schedule.PenaltyExtraTimeTotal

	e.showTimeUpModal = false
	e.showExtraTimeFeedback = true
	e.extraTimeAdded = added

	e.events.Record(eventlog.TypeChooseExtraTime, idx, map[string]any{
		"extra_seconds": added,
		"penalty":       schedule.PenaltyExtraTimeTotal,
	})

	// Auto-clear the "+Ns" feedback after a few seconds, unless the session
	// moved on to another question in the meantime.
	if e.feedbackCancel != nil {
		e.feedbackCancel()
	}
	e.feedbackCancel = e.clock.AfterFunc(schedule.ExtraTimeFeedbackSeconds*time.Second, func() {
		e.clearExtraTimeFeedback(idx)
	})

	e.notifyLocked()
	e.mu.Unlock()

	e.log.Debug().Int("q_index", idx).Int("extra_seconds", added).Msg("extra time granted")
	return nil
}

func (e *Engine) clearExtraTimeFeedback(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != idx || !e.showExtraTimeFeedback {
		return
	}
	e.showExtraTimeFeedback = false
	e.extraTimeAdded = 0
	e.notifyLocked()
}

// RequestSkipConfirmation pauses the countdown and shows the confirmation
// dialog.
func (e *Engine) RequestSkipConfirmation() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if e.showReveal {
		return ErrRevealActive
	}
	if e.showSkipConfirmation || e.showTimeUpModal {
		return nil
	}
	e.showSkipConfirmation = true
	e.timer.Pause()
	e.notifyLocked()
	return nil
}

// CancelSkipConfirmation hides the dialog and resumes the countdown.
func (e *Engine) CancelSkipConfirmation() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed || !e.showSkipConfirmation {
		return
	}
	e.showSkipConfirmation = false
	e.timer.Resume()
	e.notifyLocked()
}

// SkipQuestion abandons the current question for a hard zero and advances.
// Valid from the skip confirmation or the time-up modal.
func (e *Engine) SkipQuestion() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if e.showReveal {
		return ErrRevealActive
	}

	idx := e.cur
	ts := e.timer.State()
	e.timer.ForceStop()

	e.scores[idx] = 0
	e.skipped[idx] = true
	e.showTimeUpModal = false
	e.showSkipConfirmation = false

	elapsedSec := e.sched[idx].LimitSec + e.extraSeconds[idx] - ts.TimeRemaining
	if elapsedSec < 0 {
		elapsedSec = 0
	}

	e.events.Record(eventlog.TypeChooseSkip, idx, map[string]any{
		"time_remaining": ts.TimeRemaining,
	})

	e.persistResponseLocked(idx, nil, false, int64(elapsedSec)*1000, 0, true)
	e.markQuestionEndLocked(idx)

	e.log.Debug().Int("q_index", idx).Msg("question skipped")
	e.advanceLocked()
	return nil
}

// NextQuestion moves past a revealed answer to the next question, or ends
// the session after the last one.
func (e *Engine) NextQuestion() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if !e.showReveal {
		return ErrNoReveal
	}
	e.events.Record(eventlog.TypeNextClick, e.cur, nil)
	e.advanceLocked()
	return nil
}

// advanceLocked moves to the next question or completes the session.
// Caller holds e.mu.
func (e *Engine) advanceLocked() {
	if e.cur+1 >= len(e.questions) {
		e.endLocked()
		return
	}
	e.cur++
	e.startQuestionLocked()
}

// StartRest accepts a pending rest suggestion: the countdown pauses and a
// rest window between one and two minutes is proposed.
func (e *Engine) StartRest() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if !e.showRestSuggestion {
		return ErrNoRestPending
	}
	e.showRestSuggestion = false
	e.restActive = true
	e.restStartedAt = e.clock.Now()
	e.timer.Pause()

	dur := schedule.RestMinSeconds + e.rng.Intn(schedule.RestMaxSeconds-schedule.RestMinSeconds+1)
	e.events.Record(eventlog.TypeRestStart, e.cur, map[string]any{"suggested_sec": dur})
	e.notifyLocked()
	return nil
}

// ResumeFromRest ends an active rest and resumes the countdown.
func (e *Engine) ResumeFromRest() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed {
		return ErrCompleted
	}
	if !e.restActive {
		return ErrNoRestPending
	}
	e.restActive = false
	e.distractedStreak = 0
	rested := e.clock.Now().Sub(e.restStartedAt)
	e.events.Record(eventlog.TypeRestResume, e.cur, map[string]any{"rest_ms": rested.Milliseconds()})
	e.timer.Resume()
	e.notifyLocked()
	return nil
}

// DismissRestSuggestion declines a rest nudge.
func (e *Engine) DismissRestSuggestion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.showRestSuggestion {
		return
	}
	e.showRestSuggestion = false
	e.notifyLocked()
}

// RecordDeviceAlert logs a sensor dropout or similar device problem
// reported by the client. It never affects scoring.
func (e *Engine) RecordDeviceAlert(detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return
	}
	e.events.Record(eventlog.TypeDeviceAlert, e.cur, map[string]any{"detail": detail})
}

// EndSession finalizes the session immediately, whatever question it is on.
// Idempotent: repeat calls return the same Result.
func (e *Engine) EndSession() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.completed {
		e.endLocked()
	}
	return *e.result
}

// endLocked computes the final score, records session_end, and queues the
// score write. The final score floors at zero and is rounded to one
// decimal. Caller holds e.mu.
func (e *Engine) endLocked() {
	e.cancelTimersLocked()
	e.timer.ForceStop()
	e.completed = true

	// A session ended mid-question still closes that question's signal
	// window; the session-level pass then covers all questions.
	if !e.answered[e.cur] && !e.skipped[e.cur] {
		e.markQuestionEndLocked(e.cur)
	}
	if e.signals != nil {
		e.signals.ComputeSession(e.sessionID)
	}

	final := float64(e.totalScore - e.totalPenalties)
	if final < 0 {
		final = 0
	}
	final = math.Round(final*10) / 10

	maxTotal := schedule.MaxTotal(e.sched, len(e.questions))
	percentage := 0.0
	if maxTotal > 0 {
		percentage = math.Round(final/float64(maxTotal)*1000) / 10
	}

	answeredCount, skippedCount, hintsTotal, extraCount := 0, 0, 0, 0
	for i := range e.questions {
		if e.answered[i] {
			answeredCount++
		}
		if e.skipped[i] {
			skippedCount++
		}
		hintsTotal += e.hintsUsed[i]
		if e.extraTimeUsed[i] {
			extraCount++
		}
	}

	e.events.Record(eventlog.TypeSessionEnd, eventlog.SessionScopeIndex, map[string]any{
		"final_score":        final,
		"percentage":         percentage,
		"total_score":        e.totalScore,
		"total_penalties":    e.totalPenalties,
		"questions_answered": answeredCount,
		"questions_skipped":  skippedCount,
		"duration_ms":        e.clock.Now().Sub(e.startedAt).Milliseconds(),
	})

	if e.outbox != nil {
		e.outbox.PersistScore(context.Background(), e.sessionID, final)
	}

	e.result = &Result{
		SessionID:         e.sessionID,
		FinalScore:        final,
		Percentage:        percentage,
		QuestionsAnswered: answeredCount,
		QuestionsSkipped:  skippedCount,
		HintsUsed:         hintsTotal,
		ExtraTimeRequests: extraCount,
		Events:            e.events.Events(),
	}

	e.log.Info().
		Float64("final_score", final).
		Float64("percentage", percentage).
		Int("answered", answeredCount).
		Int("skipped", skippedCount).
		Msg("Session completed")

	e.notifyLocked()
	e.closeSubsLocked()
}

// Tick advances the countdown by one second. Exposed for the test clock;
// production ticking comes from the controller's own run loop.
func (e *Engine) Tick() {
	e.timer.Tick()
}

// Snapshot returns the current engine state for the UI.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Result returns the terminal result, or nil while the session is live.
func (e *Engine) Result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return nil
	}
	r := *e.result
	return &r
}

// Events returns a copy of the event log so far.
func (e *Engine) Events() []eventlog.Event {
	return e.events.Events()
}

// SessionID returns the session's identifier.
func (e *Engine) SessionID() uuid.UUID { return e.sessionID }

// UserID returns the owning user's identifier.
func (e *Engine) UserID() uuid.UUID { return e.userID }

// CurrentQuestion returns the active question with its answer key stripped,
// safe to hand to the client.
func (e *Engine) CurrentQuestion() model.Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.questions[e.cur]
	q.AnswerKey = model.AnswerKey{}
	return q
}

// Subscribe registers a state listener. Every mutation pushes a Snapshot;
// slow listeners miss intermediate states but always get the latest on the
// next push. The channel closes when the session completes or cancel is
// called.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Snapshot, 8)
	if e.completed {
		close(ch)
		return ch, func() {}
	}
	e.subs = append(e.subs, ch)

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (e *Engine) notifyLocked() {
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (e *Engine) closeSubsLocked() {
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

func (e *Engine) snapshotLocked() Snapshot {
	ts := e.timer.State()

	hints := make([]int, len(e.hintsUsed))
	copy(hints, e.hintsUsed)
	examples := make([]bool, len(e.exampleUsed))
	copy(examples, e.exampleUsed)
	extras := make([]bool, len(e.extraTimeUsed))
	copy(extras, e.extraTimeUsed)
	scores := make([]int, len(e.scores))
	copy(scores, e.scores)

	return Snapshot{
		SessionID:            e.sessionID,
		Mode:                 e.mode,
		CurrentQuestionIndex: e.cur,
		QuestionCount:        len(e.questions),

		TimeRemaining: ts.TimeRemaining,
		OriginalLimit: ts.OriginalLimit,
		IsRunning:     ts.IsRunning,
		IsPaused:      ts.IsPaused,
		HasWarned:     ts.HasWarned,
		HasTimedOut:   ts.HasTimedOut,

		ShowReveal:            e.showReveal,
		ShowTimeUpModal:       e.showTimeUpModal,
		ShowStressor:          e.showStressor,
		StressorMessage:       e.stressorMessage,
		ShowSkipConfirmation:  e.showSkipConfirmation,
		ShowExtraTimeFeedback: e.showExtraTimeFeedback,
		ExtraTimeAdded:        e.extraTimeAdded,
		ShowSupportPopup:      e.showSupportPopup,
		ShowRestSuggestion:    e.showRestSuggestion,
		RestActive:            e.restActive,

		HintsUsed:      hints,
		ExampleUsed:    examples,
		ExtraTimeUsed:  extras,
		Scores:         scores,
		TotalScore:     e.totalScore,
		TotalPenalties: e.totalPenalties,
		IsCompleted:    e.completed,
	}
}

func (e *Engine) cancelTimersLocked() {
	if e.stressorCancel != nil {
		e.stressorCancel()
		e.stressorCancel = nil
	}
	if e.feedbackCancel != nil {
		e.feedbackCancel()
		e.feedbackCancel = nil
	}
}

// markQuestionEndLocked emits the question_end boundary and the compute
// trigger, in that order. Caller holds e.mu.
func (e *Engine) markQuestionEndLocked(idx int) {
	if e.signals == nil {
		return
	}
	e.signals.MarkQuestionEnd(e.sessionID, idx, e.clock.Now().UnixMilli())
	e.signals.ComputeQuestion(e.sessionID, idx)
}

// persistResponseLocked queues the response write. Caller holds e.mu.
func (e *Engine) persistResponseLocked(idx int, ans *model.Answer, correct bool, timeMs int64, points int, skipped bool) {
	if e.outbox == nil {
		return
	}

	var rawAns json.RawMessage
	if ans != nil {
		if b, err := json.Marshal(ans); err == nil {
			rawAns = b
		}
	}

	examplePenalty := 0
	if e.exampleUsed[idx] {
		examplePenalty = schedule.PenaltyHintPerUse
	}
	extraPenalty := 0
	if e.extraTimeUsed[idx] {
		extraPenalty = schedule.PenaltyExtraTimeTotal
	}
	metrics, _ := json.Marshal(model.ResponseMetrics{
		HintPenalty:      e.hintsUsed[idx] * schedule.PenaltyHintPerUse,
		ExamplePenalty:   examplePenalty,
		ExtraTimePenalty: extraPenalty,
		PointsAwarded:    points,
		Skipped:          skipped,
	})

	e.outbox.PersistResponse(context.Background(), outbox.ResponsePayload{
		SessionID:     e.sessionID,
		QuestionID:    e.questions[idx].ID,
		QIndex:        idx,
		Answer:        rawAns,
		Correct:       correct,
		TimeMs:        timeMs,
		HintsUsed:     e.hintsUsed[idx],
		ExtraTimeUsed: e.extraTimeUsed[idx],
		Skipped:       skipped,
		Metrics:       metrics,
	})
}
