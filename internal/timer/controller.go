// Package timer drives a single question's countdown: start/pause/resume,
// a one-shot low-time warning, a one-shot timeout, and extend semantics
// that can un-terminate a timed-out countdown.
package timer

import (
	"math"
	"sync"
	"time"

	"github.com/cleslab/cles-backend/internal/schedule"
)

// State is a snapshot of the countdown for one question.
type State struct {
	QuestionIndex int  `json:"question_index"`
	IsRunning     bool `json:"is_running"`
	IsPaused      bool `json:"is_paused"`
	TimeRemaining int  `json:"time_remaining"`
	OriginalLimit int  `json:"original_limit"`
	HasWarned     bool `json:"has_warned"`
	HasTimedOut   bool `json:"has_timed_out"`
}

// Callbacks are fired by the tick path. They are invoked without the
// controller lock held, so they may call back into the controller.
type Callbacks struct {
	OnTick    func(secondsLeft int)
	OnWarning func(secondsLeft int)
	OnTimeout func()
}

// Controller owns at most one live tick source. Every (re)initialize,
// start, and force-stop bumps the generation; ticks carrying a stale
// generation are discarded, so a replaced countdown can never decrement
// the new question's clock.
type Controller struct {
	mu     sync.Mutex
	clock  Clock
	state  State
	cb     Callbacks
	gen    uint64
	ticker Ticker
}

// New creates a Controller driven by the given clock.
func New(clock Clock) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Controller{clock: clock}
}

// Initialize resets the controller for a question: remaining time set to the
// limit, warning and timeout flags cleared, any live countdown cancelled.
func (c *Controller) Initialize(questionIndex, limitSec int, cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTickerLocked()
	c.cb = cb
	c.state = State{
		QuestionIndex: questionIndex,
		TimeRemaining: limitSec,
		OriginalLimit: limitSec,
	}
}

// Start begins ticking. No-op while already running or timed out.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.IsRunning || c.state.HasTimedOut {
		return
	}
	c.state.IsRunning = true
	c.state.IsPaused = false
	c.startTickerLocked()
}

// Pause halts ticking without resetting remaining time. No-op unless running.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsRunning || c.state.IsPaused {
		return
	}
	c.state.IsPaused = true
	c.state.IsRunning = false
	c.stopTickerLocked()
}

// Resume continues a paused countdown. No-op unless paused; a timed-out
// countdown only restarts through Extend.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.IsRunning || !c.state.IsPaused || c.state.HasTimedOut {
		return
	}
	c.state.IsRunning = true
	c.state.IsPaused = false
	c.startTickerLocked()
}

// Extend adds floor(originalLimit × ExtraTimeFactor) seconds. If the
// countdown had timed out, the terminal flag is cleared and ticking
// restarts. Returns the number of seconds granted.
func (c *Controller) Extend() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	extension := int(math.Floor(float64(c.state.OriginalLimit) * schedule.ExtraTimeFactor))
	c.state.TimeRemaining += extension

	if c.state.HasTimedOut {
		c.state.HasTimedOut = false
		c.state.IsPaused = false
		c.state.IsRunning = true
		c.startTickerLocked()
	}
	return extension
}

// ForceStop halts ticking in any state without resetting remaining time.
// Used on question transitions so no orphaned countdown survives.
func (c *Controller) ForceStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTickerLocked()
	c.state.IsRunning = false
	c.state.IsPaused = false
}

// State returns a snapshot of the countdown.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tick advances the countdown by one second. The run loop calls this every
// second; tests call it directly.
func (c *Controller) Tick() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.tick(gen)
}

func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()
	c.gen++
	gen := c.gen

	t := c.clock.NewTicker(time.Second)
	c.ticker = t
	go func() {
		for range t.C() {
			if !c.tick(gen) {
				return
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	c.gen++
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// tick performs one decrement for the given generation. Returns false when
// the generation is stale or the countdown finished, which exits the run
// loop. Callbacks fire after the lock is released.
func (c *Controller) tick(gen uint64) bool {
	c.mu.Lock()

	if gen != c.gen || !c.state.IsRunning || c.state.IsPaused {
		c.mu.Unlock()
		return false
	}

	c.state.TimeRemaining--

	var (
		warn      bool
		timedOut  bool
		remaining int
	)

	if c.state.TimeRemaining == schedule.WarningThresholdSeconds && !c.state.HasWarned {
		c.state.HasWarned = true
		warn = true
	}

	if c.state.TimeRemaining <= 0 {
		c.state.TimeRemaining = 0
		c.state.IsRunning = false
		// Timed out reads as paused: the question is frozen under the
		// time-up modal until extra time or a skip resolves it.
		c.state.IsPaused = true
		c.state.HasTimedOut = true
		timedOut = true
		c.stopTickerLocked()
	}
	remaining = c.state.TimeRemaining
	cb := c.cb
	c.mu.Unlock()

	if warn && cb.OnWarning != nil {
		cb.OnWarning(remaining)
	}
	if timedOut {
		if cb.OnTimeout != nil {
			cb.OnTimeout()
		}
		return false
	}
	if cb.OnTick != nil {
		cb.OnTick(remaining)
	}
	return true
}
