package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
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

// fakeSink records signal calls in arrival order.
type fakeSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) MarkQuestionStart(_ uuid.UUID, qIndex int, _ int64) {
	s.record(fmt.Sprintf("start:%d", qIndex))
}

func (s *fakeSink) MarkQuestionEnd(_ uuid.UUID, qIndex int, _ int64) {
	s.record(fmt.Sprintf("end:%d", qIndex))
}

func (s *fakeSink) ComputeQuestion(_ uuid.UUID, qIndex int) {
	s.record(fmt.Sprintf("compute:%d", qIndex))
}

func (s *fakeSink) ComputeSession(_ uuid.UUID) {
	s.record("compute_session")
}

func (s *fakeSink) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// fakeAttention reports a settable status.
type fakeAttention struct {
	mu     sync.Mutex
	status signal.AttentionStatus
}

func (a *fakeAttention) set(s signal.AttentionStatus) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *fakeAttention) Status() signal.AttentionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == "" {
		return signal.StatusUnknown
	}
	return a.status
}

// memOutbox captures queued persistence commands.
type memOutbox struct {
	mu        sync.Mutex
	responses []outbox.ResponsePayload
	events    []eventlog.Event
	scores    []outbox.ScorePayload
}

func (o *memOutbox) PersistResponse(_ context.Context, p outbox.ResponsePayload) {
	o.mu.Lock()
	o.responses = append(o.responses, p)
	o.mu.Unlock()
}

func (o *memOutbox) PersistEvent(_ context.Context, ev eventlog.Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *memOutbox) PersistScore(_ context.Context, sessionID uuid.UUID, score float64) {
	o.mu.Lock()
	o.scores = append(o.scores, outbox.ScorePayload{SessionID: sessionID, Score: score})
	o.mu.Unlock()
}

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:        uuid.New(),
			Type:      model.QuestionTypeMCQ,
			Prompt:    fmt.Sprintf("question %d", i),
			Hints:     []string{"h1", "h2", "h3"},
			Example:   "worked example",
			AnswerKey: model.AnswerKey{Correct: "a"},
			Enabled:   true,
		}
	}
	return qs
}

func correctAnswer() model.Answer {
	return model.Answer{Type: model.QuestionTypeMCQ, Selected: "a"}
}

func wrongAnswer() model.Answer {
	return model.Answer{Type: model.QuestionTypeMCQ, Selected: "b"}
}

type testRig struct {
	eng       *Engine
	clock     *timer.ManualClock
	sink      *fakeSink
	attention *fakeAttention
	outbox    *memOutbox
}

func newTestRig(t *testing.T, mode model.SessionMode, n int) *testRig {
	t.Helper()

	rig := &testRig{
		clock:     timer.NewManualClock(),
		sink:      &fakeSink{},
		attention: &fakeAttention{},
		outbox:    &memOutbox{},
	}

	eng, err := New(Config{
		SessionID:  uuid.New(),
		UserID:     uuid.New(),
		SubtopicID: uuid.New(),
		Mode:       mode,
		Questions:  makeQuestions(n),
		Schedule:   schedule.Default(),
		Clock:      rig.clock,
		Rand:       rand.New(rand.NewSource(1)),
		Outbox:     rig.outbox,
		Signals:    rig.sink,
		Attention:  rig.attention,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rig.eng = eng
	eng.Start()
	return rig
}

func tickN(eng *Engine, n int) {
	for i := 0; i < n; i++ {
		eng.Tick()
	}
}

func hasEvent(events []eventlog.Event, t eventlog.Type) bool {
	for _, ev := range events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func TestNewRejectsBadConfig(t *testing.T) {
	base := Config{
		Mode:      model.ModeSupport,
		Questions: makeQuestions(1),
		Schedule:  schedule.Default(),
		Logger:    zerolog.Nop(),
	}

	noQuestions := base
	noQuestions.Questions = nil
	if _, err := New(noQuestions); err == nil {
		t.Error("expected error for empty question set")
	}

	tooMany := base
	tooMany.Questions = makeQuestions(11)
	if _, err := New(tooMany); err == nil {
		t.Error("expected error for more questions than schedule entries")
	}

	badMode := base
	badMode.Mode = "coached"
	if _, err := New(badMode); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCorrectAnswerAwardsFullPoints(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	tickN(rig.eng, 5)
	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	snap := rig.eng.Snapshot()
	if !snap.ShowReveal {
		t.Error("reveal not shown after submit")
	}
	if snap.TotalScore != 5 {
		t.Errorf("total score = %d, want 5", snap.TotalScore)
	}
	if snap.IsRunning {
		t.Error("countdown still running after submit")
	}

	if err := rig.eng.NextQuestion(); err != nil {
		t.Fatalf("NextQuestion: %v", err)
	}
	result := rig.eng.Result()
	if result == nil {
		t.Fatal("session should be completed after last question")
	}
	if result.FinalScore != 5.0 {
		t.Errorf("final score = %v, want 5.0", result.FinalScore)
	}
	if result.Percentage != 100.0 {
		t.Errorf("percentage = %v, want 100.0", result.Percentage)
	}
}

func TestWrongAnswerAwardsZero(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	if err := rig.eng.SubmitAnswer(wrongAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if got := rig.eng.Snapshot().TotalScore; got != 0 {
		t.Errorf("total score = %d, want 0", got)
	}
}

func TestSubmitAfterRevealRejected(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if err := rig.eng.SubmitAnswer(correctAnswer()); err != ErrRevealActive {
		t.Errorf("second submit error = %v, want ErrRevealActive", err)
	}
}

func TestHintAndExamplePenaltiesBakedIntoPoints(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.UseHint("hint")
	rig.eng.UseHint("hint")
	rig.eng.UseHint("example")

	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	snap := rig.eng.Snapshot()
	if snap.TotalScore != 2 {
		t.Errorf("total score = %d, want 2 (5 minus two hints minus example)", snap.TotalScore)
	}
	// Hint penalties live inside points awarded, never in the session total.
	if snap.TotalPenalties != 0 {
		t.Errorf("total penalties = %d, want 0", snap.TotalPenalties)
	}

	result := rig.eng.EndSession()
	if result.FinalScore != 2.0 {
		t.Errorf("final score = %v, want 2.0", result.FinalScore)
	}
	if result.Percentage != 40.0 {
		t.Errorf("percentage = %v, want 40.0", result.Percentage)
	}
}

func TestHintCapAndExampleOnce(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	for i := 0; i < MaxHintsPerQuestion; i++ {
		if err := rig.eng.UseHint("hint"); err != nil {
			t.Fatalf("hint %d: %v", i, err)
		}
	}
	if err := rig.eng.UseHint("hint"); err != ErrHintLimit {
		t.Errorf("fourth hint error = %v, want ErrHintLimit", err)
	}

	if err := rig.eng.UseHint("example"); err != nil {
		t.Fatalf("example: %v", err)
	}
	if err := rig.eng.UseHint("example"); err != ErrExampleUsed {
		t.Errorf("second example error = %v, want ErrExampleUsed", err)
	}

	if err := rig.eng.UseHint("walkthrough"); err != ErrInvalidHintKind {
		t.Errorf("unknown kind error = %v, want ErrInvalidHintKind", err)
	}
}

func TestHintsRequireSupportMode(t *testing.T) {
	rig := newTestRig(t, model.ModeNoSupport, 1)

	if err := rig.eng.UseHint("hint"); err != ErrModeNoSupport {
		t.Errorf("hint in no-support mode error = %v, want ErrModeNoSupport", err)
	}
}

func TestTimeoutOpensModalAndExtraTimeResumes(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	tickN(rig.eng, 30)

	snap := rig.eng.Snapshot()
	if !snap.ShowTimeUpModal || !snap.HasTimedOut {
		t.Fatalf("state after timeout = %+v, want time-up modal", snap)
	}
	if !snap.IsPaused {
		t.Error("question not paused under the time-up modal")
	}
	if !hasEvent(rig.eng.Events(), eventlog.TypeTimeUpModalOpen) {
		t.Error("time_up_modal_open not recorded")
	}

	if err := rig.eng.RequestExtraTime(); err != nil {
		t.Fatalf("RequestExtraTime: %v", err)
	}

	snap = rig.eng.Snapshot()
	if snap.TimeRemaining != 9 {
		t.Errorf("remaining = %d, want 9 (30 percent of 30, floored)", snap.TimeRemaining)
	}
	if snap.HasTimedOut || !snap.IsRunning {
		t.Errorf("countdown not resumed: %+v", snap)
	}
	if snap.ShowTimeUpModal {
		t.Error("time-up modal still showing")
	}
	if !snap.ShowExtraTimeFeedback || snap.ExtraTimeAdded != 9 {
		t.Errorf("feedback flag = %v/%d, want true/9", snap.ShowExtraTimeFeedback, snap.ExtraTimeAdded)
	}
	if snap.TotalPenalties != 2 {
		t.Errorf("total penalties = %d, want 2", snap.TotalPenalties)
	}

	// Second request has no modal to answer.
	if err := rig.eng.RequestExtraTime(); err != ErrNoTimeUpChoice {
		t.Errorf("second request error = %v, want ErrNoTimeUpChoice", err)
	}

	// Feedback clears itself after three seconds.
	rig.clock.Advance(3 * time.Second)
	if rig.eng.Snapshot().ShowExtraTimeFeedback {
		t.Error("extra-time feedback did not clear")
	}

	// Extra time costs twice: 2 off the question's points and 2 more in the
	// session penalty total.
	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if got := rig.eng.Snapshot().Scores[0]; got != 3 {
		t.Errorf("points = %d, want 3 (5 minus the extra-time penalty)", got)
	}
	result := rig.eng.EndSession()
	if result.FinalScore != 1.0 {
		t.Errorf("final score = %v, want 1.0 (3 points minus the 2-point session penalty)", result.FinalScore)
	}
	if result.ExtraTimeRequests != 1 {
		t.Errorf("extra time requests = %d, want 1", result.ExtraTimeRequests)
	}
}

func TestExtraTimePenaltyDeductedFromPoints(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.UseHint("hint")
	rig.eng.UseHint("hint")
	tickN(rig.eng, 30)
	if err := rig.eng.RequestExtraTime(); err != nil {
		t.Fatalf("RequestExtraTime: %v", err)
	}
	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	if got := rig.eng.Snapshot().Scores[0]; got != 1 {
		t.Errorf("points = %d, want 1 (5 minus 2 hint penalty minus 2 extra-time penalty)", got)
	}
}

func TestFinalScoreFloorsAtZero(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	tickN(rig.eng, 30)
	if err := rig.eng.RequestExtraTime(); err != nil {
		t.Fatalf("RequestExtraTime: %v", err)
	}
	if err := rig.eng.SubmitAnswer(wrongAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	result := rig.eng.EndSession()
	if result.FinalScore != 0.0 {
		t.Errorf("final score = %v, want 0.0 (never negative)", result.FinalScore)
	}
	if result.Percentage != 0.0 {
		t.Errorf("percentage = %v, want 0.0", result.Percentage)
	}
}

func TestSkipAwardsHardZero(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 2)

	rig.eng.UseHint("hint")
	if err := rig.eng.RequestSkipConfirmation(); err != nil {
		t.Fatalf("RequestSkipConfirmation: %v", err)
	}
	if !rig.eng.Snapshot().IsPaused {
		t.Error("countdown not paused during skip confirmation")
	}

	if err := rig.eng.SkipQuestion(); err != nil {
		t.Fatalf("SkipQuestion: %v", err)
	}

	snap := rig.eng.Snapshot()
	if snap.CurrentQuestionIndex != 1 {
		t.Errorf("current question = %d, want 1", snap.CurrentQuestionIndex)
	}
	if snap.Scores[0] != 0 {
		t.Errorf("skipped question score = %d, want 0", snap.Scores[0])
	}

	rig.outbox.mu.Lock()
	defer rig.outbox.mu.Unlock()
	if len(rig.outbox.responses) != 1 {
		t.Fatalf("queued responses = %d, want 1", len(rig.outbox.responses))
	}
	resp := rig.outbox.responses[0]
	if !resp.Skipped || resp.HintsUsed != 1 || resp.Answer != nil {
		t.Errorf("skipped response payload = %+v", resp)
	}
}

func TestSkipConfirmationCancelResumes(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.RequestSkipConfirmation()
	rig.eng.CancelSkipConfirmation()

	snap := rig.eng.Snapshot()
	if snap.ShowSkipConfirmation || !snap.IsRunning {
		t.Errorf("state after cancel = %+v, want running without dialog", snap)
	}
}

func TestSkipFromTimeUpModalEndsLastQuestion(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	tickN(rig.eng, 30)
	if err := rig.eng.SkipQuestion(); err != nil {
		t.Fatalf("SkipQuestion: %v", err)
	}

	result := rig.eng.Result()
	if result == nil {
		t.Fatal("session should complete after skipping the only question")
	}
	if result.QuestionsSkipped != 1 || result.QuestionsAnswered != 0 {
		t.Errorf("skipped/answered = %d/%d, want 1/0", result.QuestionsSkipped, result.QuestionsAnswered)
	}
}

func TestNextRequiresReveal(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 2)

	if err := rig.eng.NextQuestion(); err != ErrNoReveal {
		t.Errorf("next without reveal error = %v, want ErrNoReveal", err)
	}
}

func TestStressorShowsInWindowAndDismissSticks(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	// Window for a 30s question is 7.5 to 15 seconds.
	rig.clock.Advance(15 * time.Second)

	snap := rig.eng.Snapshot()
	if !snap.ShowStressor {
		t.Fatal("stressor banner not shown within window")
	}
	found := false
	for _, msg := range stressorMessages {
		if snap.StressorMessage == msg {
			found = true
		}
	}
	if !found {
		t.Errorf("stressor message %q not from the fixed set", snap.StressorMessage)
	}
	if !hasEvent(rig.eng.Events(), eventlog.TypeStressorShow) {
		t.Error("stressor_show not recorded")
	}

	rig.eng.DismissStressor()
	snap = rig.eng.Snapshot()
	if snap.ShowStressor {
		t.Error("banner still showing after dismiss")
	}
	if !hasEvent(rig.eng.Events(), eventlog.TypeStressorDismiss) {
		t.Error("stressor_dismiss not recorded")
	}
}

func TestStressorSuppressedAfterAnswer(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	rig.clock.Advance(20 * time.Second)

	if rig.eng.Snapshot().ShowStressor {
		t.Error("stressor banner fired after the answer was revealed")
	}
}

func TestNoStressorInNoSupportMode(t *testing.T) {
	rig := newTestRig(t, model.ModeNoSupport, 1)

	rig.clock.Advance(30 * time.Second)

	if rig.eng.Snapshot().ShowStressor {
		t.Error("stressor banner shown in no-support mode")
	}
	if hasEvent(rig.eng.Events(), eventlog.TypeStressorShow) {
		t.Error("stressor_show recorded in no-support mode")
	}
}

func TestSupportPopupOffersExampleAtTwentySeconds(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 2)

	// Question 0 is within the last two of a two-question session.
	tickN(rig.eng, 10) // 30 -> 20 seconds remaining

	snap := rig.eng.Snapshot()
	if !snap.ShowSupportPopup {
		t.Fatal("support popup not shown at 20 seconds remaining")
	}
	if !hasEvent(rig.eng.Events(), eventlog.TypeHintOffer) {
		t.Error("hint_offer not recorded")
	}

	if err := rig.eng.AcceptSupportOffer(); err != nil {
		t.Fatalf("AcceptSupportOffer: %v", err)
	}
	snap = rig.eng.Snapshot()
	if snap.ShowSupportPopup {
		t.Error("popup still showing after accept")
	}
	if !snap.ExampleUsed[0] {
		t.Error("example not marked used")
	}

	// The accepted example costs a point like a manual open.
	if err := rig.eng.SubmitAnswer(correctAnswer()); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if got := rig.eng.Snapshot().Scores[0]; got != 4 {
		t.Errorf("points = %d, want 4", got)
	}
}

func TestSupportPopupSuppressedAfterTwoHints(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 2)

	rig.eng.UseHint("hint")
	rig.eng.UseHint("hint")
	tickN(rig.eng, 10)

	if rig.eng.Snapshot().ShowSupportPopup {
		t.Error("popup shown despite two hints already used")
	}
}

func TestSupportPopupOnlyOnLastTwoQuestions(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 3)

	// Question 0 of three is not within the last two.
	tickN(rig.eng, 10)

	if rig.eng.Snapshot().ShowSupportPopup {
		t.Error("popup shown outside the last two questions")
	}
	if hasEvent(rig.eng.Events(), eventlog.TypeHintOffer) {
		t.Error("hint_offer recorded outside the last two questions")
	}
}

func TestRestNudgeAfterThreeDistractedTicks(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.attention.set(signal.StatusDistracted)
	tickN(rig.eng, 3)

	snap := rig.eng.Snapshot()
	if !snap.ShowRestSuggestion {
		t.Fatal("rest suggestion not shown after three distracted ticks")
	}
	if !hasEvent(rig.eng.Events(), eventlog.TypeRestSuggest) {
		t.Error("rest_suggest not recorded")
	}

	if err := rig.eng.StartRest(); err != nil {
		t.Fatalf("StartRest: %v", err)
	}
	snap = rig.eng.Snapshot()
	if !snap.RestActive || !snap.IsPaused {
		t.Errorf("state during rest = %+v, want paused rest", snap)
	}

	remaining := snap.TimeRemaining
	tickN(rig.eng, 5)
	if got := rig.eng.Snapshot().TimeRemaining; got != remaining {
		t.Errorf("countdown moved during rest: %d -> %d", remaining, got)
	}

	if err := rig.eng.ResumeFromRest(); err != nil {
		t.Fatalf("ResumeFromRest: %v", err)
	}
	snap = rig.eng.Snapshot()
	if snap.RestActive || !snap.IsRunning {
		t.Errorf("state after rest = %+v, want running", snap)
	}
	if !hasEvent(rig.eng.Events(), eventlog.TypeRestResume) {
		t.Error("rest_resume not recorded")
	}
}

func TestUnknownAttentionNeverTriggersNudges(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.attention.set(signal.StatusDistracted)
	tickN(rig.eng, 2)
	rig.attention.set(signal.StatusUnknown)
	tickN(rig.eng, 1) // resets the streak
	rig.attention.set(signal.StatusDistracted)
	tickN(rig.eng, 2)

	if rig.eng.Snapshot().ShowRestSuggestion {
		t.Error("rest suggested despite broken streak")
	}
	if hasEvent(rig.eng.Events(), eventlog.TypeRestSuggest) {
		t.Error("rest_suggest recorded despite broken streak")
	}
}

func TestTenSecondWarningRecordedOnce(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	tickN(rig.eng, 25)

	count := 0
	for _, ev := range rig.eng.Events() {
		if ev.Type == eventlog.TypeTenSecondWarning {
			count++
		}
	}
	if count != 1 {
		t.Errorf("ten_second_warning events = %d, want 1", count)
	}
}

func TestSignalBoundariesOrdered(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 2)

	rig.eng.SubmitAnswer(correctAnswer())
	rig.eng.NextQuestion()

	want := []string{"start:0", "end:0", "compute:0", "start:1"}
	got := rig.sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("signal calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal calls = %v, want %v", got, want)
		}
	}
}

func TestEndSessionSignalsUnresolvedQuestion(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 2)

	// Ending mid-question closes the in-flight signal window before the
	// session-level pass.
	rig.eng.EndSession()

	want := []string{"start:0", "end:0", "compute:0", "compute_session"}
	got := rig.sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("signal calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal calls = %v, want %v", got, want)
		}
	}
}

func TestCompletedSessionTriggersSessionCompute(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.SubmitAnswer(correctAnswer())
	rig.eng.NextQuestion()

	want := []string{"start:0", "end:0", "compute:0", "compute_session"}
	got := rig.sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("signal calls = %v, want %v (no duplicate end mark)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal calls = %v, want %v", got, want)
		}
	}
}

func TestSummariesRebuildEngineStateFromEvents(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 3)

	// Question 0: two hints, then a correct answer.
	rig.eng.UseHint("hint")
	rig.eng.UseHint("hint")
	rig.eng.SubmitAnswer(correctAnswer())
	rig.eng.NextQuestion()

	// Question 1: skipped.
	rig.eng.RequestSkipConfirmation()
	rig.eng.SkipQuestion()

	// Question 2: example, timeout, extra time, then a correct answer.
	rig.eng.UseHint("example")
	tickN(rig.eng, 30)
	rig.eng.RequestExtraTime()
	rig.eng.SubmitAnswer(correctAnswer())
	rig.eng.NextQuestion()

	snap := rig.eng.Snapshot()
	if !snap.IsCompleted {
		t.Fatal("session should be completed")
	}

	// The event log alone must reproduce the engine's per-question state.
	sums := eventlog.SummarizeByQuestion(rig.eng.Events(), 3)
	if len(sums) != 3 {
		t.Fatalf("summaries = %d, want 3", len(sums))
	}
	for i, s := range sums {
		if s.HintsUsed != snap.HintsUsed[i] {
			t.Errorf("q%d hints = %d, engine has %d", i, s.HintsUsed, snap.HintsUsed[i])
		}
		if s.ExampleUsed != snap.ExampleUsed[i] {
			t.Errorf("q%d example = %v, engine has %v", i, s.ExampleUsed, snap.ExampleUsed[i])
		}
		if s.ExtraTimeUsed != snap.ExtraTimeUsed[i] {
			t.Errorf("q%d extra time = %v, engine has %v", i, s.ExtraTimeUsed, snap.ExtraTimeUsed[i])
		}
		if s.PointsAwarded != snap.Scores[i] {
			t.Errorf("q%d points = %d, engine has %d", i, s.PointsAwarded, snap.Scores[i])
		}
		if wantSkipped := i == 1; s.Skipped != wantSkipped {
			t.Errorf("q%d skipped = %v, want %v", i, s.Skipped, wantSkipped)
		}
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.SubmitAnswer(correctAnswer())
	first := rig.eng.EndSession()
	second := rig.eng.EndSession()

	if first.FinalScore != second.FinalScore || len(first.Events) != len(second.Events) {
		t.Error("repeated EndSession returned a different result")
	}
	if err := rig.eng.SubmitAnswer(correctAnswer()); err != ErrCompleted {
		t.Errorf("submit after end error = %v, want ErrCompleted", err)
	}

	rig.outbox.mu.Lock()
	defer rig.outbox.mu.Unlock()
	if len(rig.outbox.scores) != 1 {
		t.Errorf("queued scores = %d, want exactly 1", len(rig.outbox.scores))
	}
}

func TestSessionEventsBracketTheLog(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.SubmitAnswer(correctAnswer())
	result := rig.eng.EndSession()

	if result.Events[0].Type != eventlog.TypeSessionStart {
		t.Errorf("first event = %s, want session_start", result.Events[0].Type)
	}
	if result.Events[len(result.Events)-1].Type != eventlog.TypeSessionEnd {
		t.Errorf("last event = %s, want session_end", result.Events[len(result.Events)-1].Type)
	}
}

func TestEveryEventMirroredToOutbox(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	rig.eng.UseHint("hint")
	rig.eng.SubmitAnswer(correctAnswer())
	rig.eng.EndSession()

	rig.outbox.mu.Lock()
	defer rig.outbox.mu.Unlock()
	if len(rig.outbox.events) != len(rig.eng.Events()) {
		t.Errorf("mirrored events = %d, log has %d", len(rig.outbox.events), len(rig.eng.Events()))
	}
}

func TestCurrentQuestionStripsAnswerKey(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	q := rig.eng.CurrentQuestion()
	if q.AnswerKey.Correct != "" || q.AnswerKey.Pattern != "" {
		t.Errorf("answer key leaked: %+v", q.AnswerKey)
	}
	if q.Prompt == "" {
		t.Error("question content missing")
	}
}

func TestSubscribeReceivesSnapshotsAndCloses(t *testing.T) {
	rig := newTestRig(t, model.ModeSupport, 1)

	ch, cancel := rig.eng.Subscribe()
	defer cancel()

	rig.eng.UseHint("hint")

	select {
	case snap := <-ch:
		if snap.HintsUsed[0] != 1 {
			t.Errorf("snapshot hints = %d, want 1", snap.HintsUsed[0])
		}
	default:
		t.Fatal("no snapshot pushed after mutation")
	}

	rig.eng.SubmitAnswer(correctAnswer())
	rig.eng.EndSession()

	// Drain until closed.
	closed := false
	for i := 0; i < 20; i++ {
		if _, ok := <-ch; !ok {
			closed = true
			break
		}
	}
	if !closed {
		t.Error("subscription not closed after session end")
	}
}
