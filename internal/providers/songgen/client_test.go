package songgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

type stubTransport struct {
	responses map[string]responseStub
	lastBody  []byte
	calls     int
	err       error
}

type responseStub struct {
	status int
	body   []byte
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		req.Body.Close()
		s.lastBody = body
	}
	if stub, ok := s.responses[req.URL.Path]; ok {
		return &http.Response{
			StatusCode: stub.status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader(stub.body)),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (s *stubTransport) setJSON(path string, status int, payload any) {
	if s.responses == nil {
		s.responses = map[string]responseStub{}
	}
	body, _ := json.Marshal(payload)
	s.responses[path] = responseStub{status: status, body: body}
}

func newTestClient(t *testing.T, transport *stubTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:      "test-key",
		BaseURL:     "https://songs.test/v2",
		HTTPClient:  &http.Client{Transport: transport},
		PollSpacing: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitReturnsTaskID(t *testing.T) {
	transport := &stubTransport{}
	transport.setJSON("/v2/generate", http.StatusOK, map[string]any{
		"task_id": "task-42",
		"status":  "queued",
	})
	client := newTestClient(t, transport)

	id, err := client.Submit(context.Background(), domain.SongRequest{
		Recipient: "Ivan",
		Occasion:  "birthday",
		Style:     "rock",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "task-42" {
		t.Fatalf("task id = %q, want task-42", id)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode submitted payload: %v", err)
	}
	if payload["recipient"] != "Ivan" {
		t.Fatalf("recipient = %v, want Ivan", payload["recipient"])
	}
	if payload["model"] != "chirp-v3-5" {
		t.Fatalf("model = %v, want default", payload["model"])
	}
}

func TestSubmitWithoutAPIKey(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Submit(context.Background(), domain.SongRequest{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSubmitMapsTransportErrorToUnavailable(t *testing.T) {
	transport := &stubTransport{err: errors.New("connection refused")}
	client := newTestClient(t, transport)

	_, err := client.Submit(context.Background(), domain.SongRequest{Recipient: "x"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSubmitMapsValidationErrorToRejected(t *testing.T) {
	transport := &stubTransport{}
	transport.setJSON("/v2/generate", http.StatusUnprocessableEntity, map[string]any{
		"code":    "invalid_style",
		"message": "style is not supported",
	})
	client := newTestClient(t, transport)

	_, err := client.Submit(context.Background(), domain.SongRequest{Recipient: "x", Style: "nope"})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "style is not supported") {
		t.Fatalf("provider message lost: %v", err)
	}
}

func TestPollOnceMapsStatuses(t *testing.T) {
	tests := []struct {
		status string
		want   domain.JobState
	}{
		{"queued", domain.StatePending},
		{"text_success", domain.StateTextReady},
		{"first_success", domain.StateDraftReady},
		{"complete", domain.StateSucceeded},
		{"error", domain.StateFailed},
		{"audio_error", domain.StateAudioFailed},
	}
	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			transport := &stubTransport{}
			transport.setJSON("/v2/tasks/task-1", http.StatusOK, map[string]any{
				"task_id": "task-1",
				"status":  tc.status,
			})
			client := newTestClient(t, transport)

			obs, err := client.PollOnce(context.Background(), "task-1")
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if obs.State != tc.want {
				t.Fatalf("state = %q, want %q", obs.State, tc.want)
			}
			if obs.Source != domain.SourcePoll {
				t.Fatalf("source = %q, want poll", obs.Source)
			}
		})
	}
}

func TestPollOnceEnforcesSpacing(t *testing.T) {
	transport := &stubTransport{}
	transport.setJSON("/v2/tasks/task-1", http.StatusOK, map[string]any{
		"task_id": "task-1",
		"status":  "queued",
	})
	client, err := NewClient(Options{
		APIKey:      "test-key",
		BaseURL:     "https://songs.test/v2",
		HTTPClient:  &http.Client{Transport: transport},
		PollSpacing: time.Hour,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.PollOnce(context.Background(), "task-1"); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	_, err = client.PollOnce(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if transport.calls != 1 {
		t.Fatalf("provider called %d times, want 1", transport.calls)
	}

	// Spacing is per provider job; another job polls freely.
	transport.setJSON("/v2/tasks/task-2", http.StatusOK, map[string]any{
		"task_id": "task-2",
		"status":  "queued",
	})
	if _, err := client.PollOnce(context.Background(), "task-2"); err != nil {
		t.Fatalf("other job poll: %v", err)
	}
}

func TestPollOnceMapsServerErrorToUnavailable(t *testing.T) {
	transport := &stubTransport{}
	transport.setJSON("/v2/tasks/task-1", http.StatusBadGateway, map[string]any{})
	client := newTestClient(t, transport)

	_, err := client.PollOnce(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestPollOnceMapsTooManyRequests(t *testing.T) {
	transport := &stubTransport{}
	transport.setJSON("/v2/tasks/task-1", http.StatusTooManyRequests, map[string]any{})
	client := newTestClient(t, transport)

	_, err := client.PollOnce(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
