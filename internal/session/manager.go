package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/model"
	"github.com/cleslab/cles-backend/internal/outbox"
	"github.com/cleslab/cles-backend/internal/schedule"
	"github.com/cleslab/cles-backend/internal/timer"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoQuestions     = errors.New("subtopic has no enabled questions")
)

// QuestionSource loads the question set for a subtopic.
type QuestionSource interface {
	ListBySubtopic(ctx context.Context, subtopicID uuid.UUID) ([]model.Question, error)
}

// SessionStore persists the session row. Creation is synchronous so the row
// exists before any queued response or event write references it.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	Finish(ctx context.Context, id uuid.UUID, finishedAt time.Time) error
}

// Manager owns all live engines. Engines leave the registry only when their
// session ends or the manager shuts down.
type Manager struct {
	mu      sync.RWMutex
	engines map[uuid.UUID]*Engine

	questions QuestionSource
	sessions  SessionStore
	outbox    outbox.Outbox
	signals   SignalSink
	attention AttentionSource
	clock     timer.Clock
	sched     []schedule.Entry
	log       zerolog.Logger
}

// NewManager creates an empty registry wired to the shared dependencies.
func NewManager(
	questions QuestionSource,
	sessions SessionStore,
	ob outbox.Outbox,
	signals SignalSink,
	attention AttentionSource,
	clock timer.Clock,
	sched []schedule.Entry,
	log zerolog.Logger,
) *Manager {
	if clock == nil {
		clock = timer.RealClock{}
	}
	return &Manager{
		engines:   make(map[uuid.UUID]*Engine),
		questions: questions,
		sessions:  sessions,
		outbox:    ob,
		signals:   signals,
		attention: attention,
		clock:     clock,
		sched:     sched,
		log:       log.With().Str("component", "session_manager").Logger(),
	}
}

// Start creates the session row, builds an engine over the subtopic's
// questions, registers it, and starts it. At most len(schedule) questions
// are taken; sessions shorter than the schedule use its prefix.
func (m *Manager) Start(ctx context.Context, userID, subtopicID uuid.UUID, mode model.SessionMode) (*Engine, error) {
	qs, err := m.questions.ListBySubtopic(ctx, subtopicID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	if len(qs) > len(m.sched) {
		qs = qs[:len(m.sched)]
	}

	row := &model.Session{
		ID:         uuid.New(),
		UserID:     userID,
		SubtopicID: subtopicID,
		Mode:       mode,
		StartedAt:  m.clock.Now(),
		Status:     model.SessionStatusInProgress,
	}
	if err := m.sessions.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	eng, err := New(Config{
		SessionID:  row.ID,
		UserID:     userID,
		SubtopicID: subtopicID,
		Mode:       mode,
		Questions:  qs,
		Schedule:   m.sched,
		Clock:      m.clock,
		Rand:       rand.New(rand.NewSource(m.clock.Now().UnixNano())),
		Outbox:     m.outbox,
		Signals:    m.signals,
		Attention:  m.attention,
		Logger:     m.log,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[row.ID] = eng
	m.mu.Unlock()

	eng.Start()
	m.log.Info().
		Str("session_id", row.ID.String()).
		Str("subtopic_id", subtopicID.String()).
		Str("mode", string(mode)).
		Int("questions", len(qs)).
		Msg("Session engine registered")
	return eng, nil
}

// Get returns the live engine for a session.
func (m *Manager) Get(id uuid.UUID) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eng, ok := m.engines[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return eng, nil
}

// End finalizes a session, marks the row finished, and removes the engine
// from the registry.
func (m *Manager) End(ctx context.Context, id uuid.UUID) (Result, error) {
	m.mu.Lock()
	eng, ok := m.engines[id]
	if ok {
		delete(m.engines, id)
	}
	m.mu.Unlock()
	if !ok {
		return Result{}, ErrSessionNotFound
	}

	res := eng.EndSession()
	if err := m.sessions.Finish(ctx, id, m.clock.Now()); err != nil {
		// Score still lands via the worker queue; log and move on.
		m.log.Warn().Err(err).Str("session_id", id.String()).Msg("mark session finished failed")
	}
	return res, nil
}

// Shutdown finalizes every live engine. Called on server stop so in-flight
// sessions flush their score and session_end event.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.engines = make(map[uuid.UUID]*Engine)
	m.mu.Unlock()

	for _, eng := range engines {
		eng.EndSession()
		if err := m.sessions.Finish(ctx, eng.SessionID(), m.clock.Now()); err != nil {
			m.log.Warn().Err(err).Str("session_id", eng.SessionID().String()).Msg("mark session finished failed")
		}
	}
	if len(engines) > 0 {
		m.log.Info().Int("count", len(engines)).Msg("Finalized live sessions on shutdown")
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}
