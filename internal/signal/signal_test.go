package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func attentionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAttentionFetchMapsStatuses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   AttentionStatus
	}{
		{"focused", http.StatusOK, `{"status":"FOCUSED"}`, StatusFocused},
		{"distracted", http.StatusOK, `{"status":"DISTRACTED"}`, StatusDistracted},
		{"unexpected value", http.StatusOK, `{"status":"SLEEPING"}`, StatusUnknown},
		{"garbage body", http.StatusOK, `not json`, StatusUnknown},
		{"server error", http.StatusInternalServerError, ``, StatusUnknown},
	}

	for _, tc := range cases {
		srv := attentionServer(t, tc.status, tc.body)
		p := NewAttentionPoller(srv.URL, time.Minute, zerolog.Nop())
		if got := p.fetch(context.Background()); got != tc.want {
			t.Errorf("%s: fetch = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAttentionFetchUnreachableIsUnknown(t *testing.T) {
	p := NewAttentionPoller("http://127.0.0.1:1", time.Minute, zerolog.Nop())
	if got := p.fetch(context.Background()); got != StatusUnknown {
		t.Errorf("fetch against dead endpoint = %s, want UNKNOWN", got)
	}
}

func TestAttentionStatusDefaultsToUnknown(t *testing.T) {
	p := NewAttentionPoller("http://localhost", time.Minute, zerolog.Nop())
	if got := p.Status(); got != StatusUnknown {
		t.Errorf("initial status = %s, want UNKNOWN", got)
	}
}

type capturedPost struct {
	path string
	body map[string]any
}

type postLog struct {
	mu    sync.Mutex
	posts []capturedPost
}

func (l *postLog) add(p capturedPost) {
	l.mu.Lock()
	l.posts = append(l.posts, p)
	l.mu.Unlock()
}

func (l *postLog) snapshot() []capturedPost {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedPost, len(l.posts))
	copy(out, l.posts)
	return out
}

func captureServer(t *testing.T) (*httptest.Server, *postLog) {
	t.Helper()
	posts := &postLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		posts.add(capturedPost{path: r.URL.Path, body: body})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, posts
}

func TestClientMarkPostsBoundary(t *testing.T) {
	srv, posts := captureServer(t)
	c := NewClient(srv.URL, zerolog.Nop())
	sessionID := uuid.New()

	if err := c.Mark(context.Background(), sessionID, 2, 123456, BoundaryQuestionEnd); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	got := posts.snapshot()
	if len(got) != 1 {
		t.Fatalf("posts = %d, want 1", len(got))
	}
	p := got[0]
	if want := "/sessions/" + sessionID.String() + "/mark"; p.path != want {
		t.Errorf("path = %s, want %s", p.path, want)
	}
	if p.body["q_index"] != float64(2) || p.body["timestamp_ms"] != float64(123456) {
		t.Errorf("body = %v", p.body)
	}
	if p.body["event_type"] != "question_end" {
		t.Errorf("event_type = %v, want question_end", p.body["event_type"])
	}
}

func TestClientComputePostsTrigger(t *testing.T) {
	srv, posts := captureServer(t)
	c := NewClient(srv.URL, zerolog.Nop())
	sessionID := uuid.New()

	if err := c.ComputeQuestion(context.Background(), sessionID, 4); err != nil {
		t.Fatalf("ComputeQuestion: %v", err)
	}

	p := posts.snapshot()[0]
	if want := "/sessions/" + sessionID.String() + "/compute-question"; p.path != want {
		t.Errorf("path = %s, want %s", p.path, want)
	}
	if p.body["q_index"] != float64(4) {
		t.Errorf("q_index = %v, want 4", p.body["q_index"])
	}
}

func TestClientComputeSessionPostsTrigger(t *testing.T) {
	srv, posts := captureServer(t)
	c := NewClient(srv.URL, zerolog.Nop())
	sessionID := uuid.New()

	if err := c.ComputeSession(context.Background(), sessionID); err != nil {
		t.Fatalf("ComputeSession: %v", err)
	}

	p := posts.snapshot()[0]
	if want := "/sessions/" + sessionID.String() + "/compute-session"; p.path != want {
		t.Errorf("path = %s, want %s", p.path, want)
	}
}

func TestClientNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	if err := c.Mark(context.Background(), uuid.New(), 0, 0, BoundaryQuestionStart); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	srv, posts := captureServer(t)
	d := NewDispatcher(NewClient(srv.URL, zerolog.Nop()), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	sessionID := uuid.New()
	d.MarkQuestionStart(sessionID, 0, 100)
	d.MarkQuestionEnd(sessionID, 0, 200)
	d.ComputeQuestion(sessionID, 0)
	d.ComputeSession(sessionID)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(posts.snapshot()) == 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	got := posts.snapshot()
	if len(got) != 4 {
		t.Fatalf("delivered = %d, want 4", len(got))
	}
	if got[0].body["event_type"] != "question_start" {
		t.Errorf("first delivery = %v", got[0])
	}
	if got[1].body["event_type"] != "question_end" {
		t.Errorf("second delivery = %v", got[1])
	}
	if want := "/sessions/" + sessionID.String() + "/compute-question"; got[2].path != want {
		t.Errorf("third delivery path = %s, want %s", got[2].path, want)
	}
	if want := "/sessions/" + sessionID.String() + "/compute-session"; got[3].path != want {
		t.Errorf("fourth delivery path = %s, want %s", got[3].path, want)
	}
}
