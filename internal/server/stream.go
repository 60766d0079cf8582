package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/maximizer/internal/opt"
	"github.com/go-chi/chi/v5"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	JobID string   `json:"jobId"`
	State JobState `json:"state"`
	// Rank and Attempt identify the minimizer call that produced the event
	Rank      int       `json:"rank"`
	Attempt   int       `json:"attempt"`
	Objective opt.Float `json:"objective"`
	Success   bool      `json:"success"`
	// Attempts counts minimizer calls of the job so far
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// topic holds the subscribers of one job
type topic struct {
	subs map[chan ProgressEvent]struct{}
	// last is replayed to new subscribers
	last *ProgressEvent
}

// EventBroadcaster fans job events out to SSE subscribers
type EventBroadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{topics: make(map[string]*topic)}
}

func (eb *EventBroadcaster) topic(jobID string) *topic {
	t, ok := eb.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan ProgressEvent]struct{})}
		eb.topics[jobID] = t
	}
	return t
}

// Subscribe returns a channel receiving the job's events, starting with the last one sent
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 64)
	t := eb.topic(jobID)
	t.subs[ch] = struct{}{}
	if t.last != nil {
		ch <- *t.last
	}

	slog.Debug("SSE client subscribed", "jobID", jobID, "total_clients", len(t.subs))
	return ch
}

// Unsubscribe removes and closes ch unless CleanupJob already did
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[jobID]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; ok {
		delete(t.subs, ch)
		close(ch)
	}

	slog.Debug("SSE client unsubscribed", "jobID", jobID)
}

// Broadcast sends an event to all subscribers of its job. Subscribers whose
// buffer is full miss the event; terminal events are never dropped since the
// stream handler relies on them to finish.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t := eb.topic(event.JobID)
	t.last = &event

	for ch := range t.subs {
		select {
		case ch <- event:
		default:
			if !event.State.Terminal() {
				slog.Warn("SSE channel full, skipping event", "jobID", event.JobID, "attempts", event.Attempts)
				continue
			}
			// Make room for the terminal event
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

// CleanupJob closes all subscriptions of a job and forgets its last event
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if t, ok := eb.topics[jobID]; ok {
		for ch := range t.subs {
			close(ch)
		}
		delete(eb.topics, jobID)
	}
	slog.Debug("Cleaned up SSE resources", "jobID", jobID)
}

// handleJobStream handles GET /api/v1/runs/{id}/stream.
// It streams attempt events and returns after the job's terminal event.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before sending the snapshot so no event falls in between
	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	snapshot := ProgressEvent{
		JobID:     job.ID,
		State:     job.State,
		Objective: job.LastObjective,
		Attempts:  job.Attempts,
		Timestamp: time.Now(),
	}
	if err := writeSSEEvent(w, snapshot); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "jobID", jobID)
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.Terminal() {
				return
			}

		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format. Terminal events are named
// "done", all others "progress".
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	name := "progress"
	if event.State.Terminal() {
		name = "done"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
