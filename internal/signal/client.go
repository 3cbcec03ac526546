// Package signal talks to the external physiological-signal processor:
// question boundary marks, per-question metric computation triggers, and
// the local attention-status poll. Everything here is best-effort: a dead
// endpoint degrades to logged warnings and unknown status, never to a
// failed session action.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BoundaryEvent marks which edge of a question window is being reported.
type BoundaryEvent string

const (
	BoundaryQuestionStart BoundaryEvent = "question_start"
	BoundaryQuestionEnd   BoundaryEvent = "question_end"
)

// Client posts boundary marks and compute triggers to the signal processor.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		log:     log.With().Str("component", "signal_client").Logger(),
	}
}

type markRequest struct {
	QIndex      int    `json:"q_index"`
	TimestampMs int64  `json:"timestamp_ms"`
	EventType   string `json:"event_type"`
}

type computeRequest struct {
	QIndex int `json:"q_index"`
}

// Mark reports a question boundary so the processor can segment raw
// heart-rate/attention samples per question.
func (c *Client) Mark(ctx context.Context, sessionID uuid.UUID, qIndex int, tsMs int64, event BoundaryEvent) error {
	url := fmt.Sprintf("%s/sessions/%s/mark", c.baseURL, sessionID)
	return c.post(ctx, url, markRequest{QIndex: qIndex, TimestampMs: tsMs, EventType: string(event)})
}

// ComputeQuestion requests derived stress/attention metrics for a finished
// question window.
func (c *Client) ComputeQuestion(ctx context.Context, sessionID uuid.UUID, qIndex int) error {
	url := fmt.Sprintf("%s/sessions/%s/compute-question", c.baseURL, sessionID)
	return c.post(ctx, url, computeRequest{QIndex: qIndex})
}

// ComputeSession requests the whole-session post-processing pass (overall
// attention rate across all question windows). Sent once, at session end.
func (c *Client) ComputeSession(ctx context.Context, sessionID uuid.UUID) error {
	url := fmt.Sprintf("%s/sessions/%s/compute-session", c.baseURL, sessionID)
	return c.post(ctx, url, struct{}{})
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	return nil
}
