package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AttentionStatus is the coarse state reported by the local attention
// service. Anything unexpected, including an unreachable endpoint, maps
// to StatusUnknown so the caller treats it as neutral.
type AttentionStatus string

const (
	StatusFocused    AttentionStatus = "FOCUSED"
	StatusDistracted AttentionStatus = "DISTRACTED"
	StatusUnknown    AttentionStatus = "UNKNOWN"
)

// AttentionPoller periodically polls the local attention service and caches
// the latest status for the session engine's stressor/rest gating.
type AttentionPoller struct {
	url      string
	interval time.Duration
	http     *http.Client
	log      zerolog.Logger

	mu     sync.RWMutex
	status AttentionStatus
}

// NewAttentionPoller creates a poller for the given service URL.
func NewAttentionPoller(url string, interval time.Duration, log zerolog.Logger) *AttentionPoller {
	return &AttentionPoller{
		url:      url,
		interval: interval,
		http:     &http.Client{Timeout: 3 * time.Second},
		log:      log.With().Str("component", "attention_poller").Logger(),
		status:   StatusUnknown,
	}
}

// Start begins polling. Call in a goroutine; returns when ctx is cancelled.
func (p *AttentionPoller) Start(ctx context.Context) {
	p.log.Info().Str("url", p.url).Dur("interval", p.interval).Msg("Attention poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Attention poller stopped")
			return
		case <-ticker.C:
			p.setStatus(p.fetch(ctx))
		}
	}
}

// Status returns the most recently observed attention status.
func (p *AttentionPoller) Status() AttentionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *AttentionPoller) setStatus(s AttentionStatus) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

func (p *AttentionPoller) fetch(ctx context.Context) AttentionStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/status", nil)
	if err != nil {
		return StatusUnknown
	}

	resp, err := p.http.Do(req)
	if err != nil {
		// Service down is normal operation (webcam pipeline optional).
		p.log.Debug().Err(err).Msg("attention service unreachable")
		return StatusUnknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusUnknown
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusUnknown
	}

	switch AttentionStatus(body.Status) {
	case StatusFocused:
		return StatusFocused
	case StatusDistracted:
		return StatusDistracted
	default:
		return StatusUnknown
	}
}
