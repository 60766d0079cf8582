package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// doRequest sends a request through the full router
func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

// waitForState polls until the job reaches a terminal state
func waitForState(t *testing.T, s *Server, id string) Job {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.jobManager.GetJob(id)
		if !ok {
			t.Fatalf("Job %s disappeared", id)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", id)
	return Job{}
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", t.TempDir())
	defer s.Shutdown(context.Background())

	w := doRequest(t, s, http.MethodPost, "/api/v1/runs", testRunYAML)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Expected pending state, got %s", job.State)
	}
	if job.Config.Output.Dir != s.outputDir {
		t.Errorf("Output dir should be replaced by the server's, got %s", job.Config.Output.Dir)
	}

	final := waitForState(t, s, job.ID)
	if final.State != StateCompleted {
		t.Errorf("Expected completed job, got %s (%s)", final.State, final.Error)
	}
}

func TestServer_CreateJob_JSON(t *testing.T) {
	s := NewServer(":8080", t.TempDir())
	defer s.Shutdown(context.Background())

	body := `{"model": {
		"params": [{"name": "x", "prior": {"dist": "uniform", "min": -1, "max": 1}}],
		"likelihoods": [{"params": ["x"], "mean": [0.2], "cov": [[0.5]]}]
	}}`
	w := doRequest(t, s, http.MethodPost, "/api/v1/runs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed", "model: [", "failed to parse config"},
		{"invalid value", "sampler:\n  strategy: 7\n", "strategy"},
		{"nats transport", "parallel:\n  transport: nats\n  run_id: x\n", "local transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":8080", t.TempDir())

			w := doRequest(t, s, http.MethodPost, "/api/v1/runs", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if !strings.Contains(resp["error"], tt.wantErr) {
				t.Errorf("Error %q should contain %q", resp["error"], tt.wantErr)
			}
			if len(s.jobManager.ListJobs()) != 0 {
				t.Error("No job should be created")
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", t.TempDir())

	// Create two jobs
	s.jobManager.CreateJob(testRunConfig(t))
	s.jobManager.CreateJob(testRunConfig(t))

	w := doRequest(t, s, http.MethodGet, "/api/v1/runs", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", t.TempDir())

	job := s.jobManager.CreateJob(testRunConfig(t))

	w := doRequest(t, s, http.MethodGet, "/api/v1/runs/"+job.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}
	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
	if _, ok := response["elapsed"]; !ok {
		t.Error("Response should contain elapsed time")
	}
}

func TestServer_NotFound(t *testing.T) {
	s := NewServer(":8080", t.TempDir())

	for _, path := range []string{
		"/api/v1/runs/nonexistent",
		"/api/v1/runs/nonexistent/table",
		"/api/v1/runs/nonexistent/stream",
	} {
		w := doRequest(t, s, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestServer_GetTable(t *testing.T) {
	s := NewServer(":8080", t.TempDir())
	job := s.jobManager.CreateJob(testRunConfig(t))

	// No maximum before the run
	if w := doRequest(t, s, http.MethodGet, "/api/v1/runs/"+job.ID+"/table", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 before completion, got %d", w.Code)
	}

	if err := runJob(context.Background(), s.jobManager, s.metrics, job.ID); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/runs/"+job.ID+"/table", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Expected text/plain content type, got %s", w.Header().Get("Content-Type"))
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "#") || !strings.Contains(lines[0], "minuslogpost") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	s := NewServer(":8080", t.TempDir())
	job := s.jobManager.CreateJob(testRunConfig(t))
	if err := runJob(context.Background(), s.jobManager, s.metrics, job.ID); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	w := doRequest(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "maximize_published_total 1") {
		t.Errorf("Metrics should count the published maximum:\n%s", w.Body.String())
	}

	w = doRequest(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("Unexpected health response %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_CORS(t *testing.T) {
	s := NewServer(":8080", t.TempDir())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin *, got %q", got)
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	s := NewServer(":8080", t.TempDir())
	defer s.Shutdown(context.Background())

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/yaml", strings.NewReader(testRunYAML))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode job: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/runs/%s/stream", srv.URL, job.ID), nil)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer stream.Body.Close()

	if stream.Header.Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	// The handler closes the stream after the terminal event
	var events []ProgressEvent
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("Failed to decode event %q: %v", line, err)
		}
		events = append(events, event)
	}

	if len(events) == 0 {
		t.Fatal("Expected SSE events")
	}
	last := events[len(events)-1]
	if last.JobID != job.ID {
		t.Errorf("Event for wrong job: %s", last.JobID)
	}
	if last.State != StateCompleted {
		t.Errorf("Expected stream to end with completed, got %s", last.State)
	}
}

func TestServer_ShutdownCancelsJobs(t *testing.T) {
	s := NewServer(":8080", t.TempDir())

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Jobs started after shutdown see a cancelled context
	job := s.jobManager.CreateJob(testRunConfig(t))
	runJob(s.baseCtx, s.jobManager, s.metrics, job.ID)

	updated, _ := s.jobManager.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Expected cancelled job, got %s", updated.State)
	}
}

func TestServer_CreateJobAfterShutdown(t *testing.T) {
	s := NewServer(":8080", t.TempDir())
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	w := doRequest(t, s, http.MethodPost, "/api/v1/runs", testRunYAML)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d: %s", w.Code, w.Body.String())
	}
	if jobs := s.jobManager.ListJobs(); len(jobs) != 0 {
		t.Errorf("Expected no jobs after shutdown, got %d", len(jobs))
	}
}

func TestServer_CreateJobDuringShutdown(t *testing.T) {
	s := NewServer(":8080", t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doRequest(t, s, http.MethodPost, "/api/v1/runs", testRunYAML)
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	wg.Wait()

	// Shutdown waited for every accepted job
	for _, job := range s.jobManager.ListJobs() {
		if !job.State.Terminal() {
			t.Errorf("Job %s left in state %s", job.ID, job.State)
		}
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:     "job1",
		State:     StateRunning,
		Attempt:   1,
		Objective: 100.5,
		Attempts:  2,
		Timestamp: time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Attempts != 2 {
			t.Errorf("Expected 2 attempts, got %d", received.Attempts)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers get the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.Objective != 100.5 {
			t.Errorf("Expected last objective 100.5, got %v", received.Objective)
		}
	default:
		t.Error("Late subscriber should receive the last event")
	}

	// Cleanup closes all channels; a later Unsubscribe must not panic
	eb.CleanupJob("job1")
	if _, ok := <-late; ok {
		t.Error("Channel should be closed after cleanup")
	}
}
