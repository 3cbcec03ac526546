package signal

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type commandKind int

const (
	cmdMark commandKind = iota
	cmdCompute
	cmdComputeSession
)

type command struct {
	kind      commandKind
	sessionID uuid.UUID
	qIndex    int
	tsMs      int64
	event     BoundaryEvent
}

// Dispatcher serializes signal-processor calls through one consumer
// goroutine so ordering holds: a question's boundary marks are delivered
// before its compute trigger, and question_end before the next
// question_start. Enqueueing never blocks the caller; on overflow the
// command is dropped with a warning.
type Dispatcher struct {
	client *Client
	ch     chan command
	log    zerolog.Logger
}

// NewDispatcher creates a Dispatcher with a bounded command buffer.
func NewDispatcher(client *Client, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		ch:     make(chan command, 256),
		log:    log.With().Str("component", "signal_dispatcher").Logger(),
	}
}

// Start begins the consumer loop. Call in a goroutine; returns when ctx is
// cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Msg("Signal dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Signal dispatcher stopped")
			return
		case cmd := <-d.ch:
			d.deliver(ctx, cmd)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdMark:
		err = d.client.Mark(ctx, cmd.sessionID, cmd.qIndex, cmd.tsMs, cmd.event)
	case cmdCompute:
		err = d.client.ComputeQuestion(ctx, cmd.sessionID, cmd.qIndex)
	case cmdComputeSession:
		err = d.client.ComputeSession(ctx, cmd.sessionID)
	}
	if err != nil && ctx.Err() == nil {
		d.log.Warn().Err(err).
			Str("session_id", cmd.sessionID.String()).
			Int("q_index", cmd.qIndex).
			Msg("signal delivery failed")
	}
}

// MarkQuestionStart enqueues a question_start boundary mark.
func (d *Dispatcher) MarkQuestionStart(sessionID uuid.UUID, qIndex int, tsMs int64) {
	d.enqueue(command{kind: cmdMark, sessionID: sessionID, qIndex: qIndex, tsMs: tsMs, event: BoundaryQuestionStart})
}

// MarkQuestionEnd enqueues a question_end boundary mark.
func (d *Dispatcher) MarkQuestionEnd(sessionID uuid.UUID, qIndex int, tsMs int64) {
	d.enqueue(command{kind: cmdMark, sessionID: sessionID, qIndex: qIndex, tsMs: tsMs, event: BoundaryQuestionEnd})
}

// ComputeQuestion enqueues a per-question metric computation trigger.
func (d *Dispatcher) ComputeQuestion(sessionID uuid.UUID, qIndex int) {
	d.enqueue(command{kind: cmdCompute, sessionID: sessionID, qIndex: qIndex})
}

// ComputeSession enqueues the whole-session post-processing trigger.
func (d *Dispatcher) ComputeSession(sessionID uuid.UUID) {
	d.enqueue(command{kind: cmdComputeSession, sessionID: sessionID})
}

func (d *Dispatcher) enqueue(cmd command) {
	select {
	case d.ch <- cmd:
	default:
		d.log.Warn().Int("q_index", cmd.qIndex).Msg("signal queue full, dropping command")
	}
}
