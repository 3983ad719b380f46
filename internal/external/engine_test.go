package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"regionwatch/internal/types"
)

func newTestEngine(t *testing.T, serverURL string, mutate ...func(*EngineClientConfig)) *EngineClient {
	t.Helper()
	cfg := EngineClientConfig{
		APIKey:  "test_engine_key",
		BaseURL: serverURL,
		Endpoints: map[types.Priority]string{
			types.PriorityStandard: "ep-standard",
			types.PriorityHigh:     "ep-high",
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := NewEngineClient(newTestClient(t, NoRetry()), cfg)
	if err != nil {
		t.Fatalf("NewEngineClient: %v", err)
	}
	return client
}

func testSpec(priority types.Priority) types.JobSpec {
	return types.JobSpec{
		JobID:            "01hzy7k3j1job",
		RegionID:         "r1",
		GroupID:          "g1",
		Priority:         priority,
		TriggerKind:      types.TriggerKindSchedule,
		ScheduleDateTime: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		OutputPrefix:     "region=r1/job=01hzy7k3j1job",
	}
}

func TestEngineSubmit_Success(t *testing.T) {
	var (
		gotPath, gotAuth string
		gotBody          engineRunRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(engineRunResponse{ID: "eng-123", Status: "IN_QUEUE"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, func(c *EngineClientConfig) {
		c.WebhookURL = "https://hooks.example.com/status"
	})
	handle, err := engine.Submit(context.Background(), testSpec(types.PriorityStandard))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if handle != "eng-123" {
		t.Errorf("handle = %q, want eng-123", handle)
	}
	if gotPath != "/v2/ep-standard/run" {
		t.Errorf("path = %q, want /v2/ep-standard/run", gotPath)
	}
	if gotAuth != "Bearer test_engine_key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Input.JobID != "01hzy7k3j1job" || gotBody.Input.OutputPrefix != "region=r1/job=01hzy7k3j1job" {
		t.Errorf("unexpected input: %+v", gotBody.Input)
	}
	if gotBody.Webhook != "https://hooks.example.com/status" {
		t.Errorf("webhook = %q", gotBody.Webhook)
	}
}

func TestEngineSubmit_PriorityRouting(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(engineRunResponse{ID: "h"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	for _, p := range []types.Priority{types.PriorityHigh, types.PriorityLow, ""} {
		if _, err := engine.Submit(context.Background(), testSpec(p)); err != nil {
			t.Fatalf("submit %q: %v", p, err)
		}
	}

	want := []string{"/v2/ep-high/run", "/v2/ep-standard/run", "/v2/ep-standard/run"}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("submission %d went to %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestEngineSubmit_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad input"}`))
		}},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"empty handle", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"","status":"IN_QUEUE"}`))
		}},
		{"garbled body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			_, err := newTestEngine(t, server.URL).Submit(context.Background(), testSpec(types.PriorityStandard))
			if !types.IsCode(err, types.ErrCodeJobSubmissionFailed) {
				t.Fatalf("expected job submission failed, got: %v", err)
			}
		})
	}
}

func TestEngineSubmit_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, _ = newTestEngine(t, server.URL).Submit(context.Background(), testSpec(types.PriorityStandard))
	if calls.Load() != 1 {
		t.Errorf("submission must not be retried, got %d calls", calls.Load())
	}
}

func TestEngineSubmit_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(engineRunResponse{ID: "h"})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, func(c *EngineClientConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	if _, err := engine.Submit(context.Background(), testSpec(types.PriorityStandard)); err != nil {
		t.Fatalf("first submit within burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := engine.Submit(ctx, testSpec(types.PriorityStandard))
	if !types.IsCode(err, types.ErrCodeJobSubmissionFailed) {
		t.Fatalf("expected rate-limited submit to fail, got: %v", err)
	}
}

func TestNewEngineClient_RequiresStandardEndpoint(t *testing.T) {
	_, err := NewEngineClient(newTestClient(t, NoRetry()), EngineClientConfig{
		Endpoints: map[types.Priority]string{types.PriorityHigh: "ep-high"},
	})
	if err == nil {
		t.Fatal("expected error without a standard endpoint")
	}
}

func TestEngineStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/ep-standard/status/eng-1":
			w.Write([]byte(`{"id":"eng-1","status":"COMPLETED","executionTime":1200}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	st, err := engine.Status(context.Background(), types.PriorityStandard, "eng-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != "COMPLETED" || st.ExecutionTime != 1200 {
		t.Errorf("unexpected status: %+v", st)
	}

	_, err = engine.Status(context.Background(), types.PriorityStandard, "eng-missing")
	if !types.IsCode(err, types.ErrCodeUnknownJob) {
		t.Errorf("expected unknown job, got: %v", err)
	}
}
