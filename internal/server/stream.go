package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwbudde/polywalk/internal/walk"
)

// Event types sent over SSE
const (
	EventWaypoint = "waypoint"
	EventState    = "state"
)

// clientBuffer holds one second of waypoints at a 50ms pacing delay.
const clientBuffer = 64

// WalkEvent is a waypoint or state-change notification for one session
type WalkEvent struct {
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	State     SessionState   `json:"state"`
	Waypoint  *walk.Waypoint `json:"waypoint,omitempty"`
	Steps     int            `json:"steps"`
	Waypoints int            `json:"waypoints"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventBroadcaster fans session events out to SSE clients
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan WalkEvent]bool // sessionID -> set of client channels
	lastState map[string]WalkEvent               // sessionID -> last state event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan WalkEvent]bool),
		lastState: make(map[string]WalkEvent),
	}
}

// Subscribe adds a client for a session. The last state event, if any, is
// replayed so reconnecting clients learn where the walk is.
func (eb *EventBroadcaster) Subscribe(sessionID string) chan WalkEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan WalkEvent, clientBuffer)
	if eb.clients[sessionID] == nil {
		eb.clients[sessionID] = make(map[chan WalkEvent]bool)
	}
	eb.clients[sessionID][ch] = true

	if last, ok := eb.lastState[sessionID]; ok {
		ch <- last
	}

	slog.Debug("SSE client subscribed", "session_id", sessionID, "total_clients", len(eb.clients[sessionID]))
	return ch
}

// Unsubscribe removes a client. Channels already closed by CloseSession
// are left alone.
func (eb *EventBroadcaster) Unsubscribe(sessionID string, ch chan WalkEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	clients, ok := eb.clients[sessionID]
	if !ok || !clients[ch] {
		return
	}
	delete(clients, ch)
	close(ch)
	if len(clients) == 0 {
		delete(eb.clients, sessionID)
	}
	slog.Debug("SSE client unsubscribed", "session_id", sessionID)
}

// Broadcast sends an event to all clients of its session. Slow clients
// miss events rather than blocking the walk.
func (eb *EventBroadcaster) Broadcast(event WalkEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if event.Type == EventState {
		eb.lastState[event.SessionID] = event
	}

	for ch := range eb.clients[event.SessionID] {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE channel full, dropping event", "session_id", event.SessionID, "type", event.Type)
		}
	}
}

// CloseSession ends every stream of a session. The last state event is kept
// for clients that connect afterwards.
func (eb *EventBroadcaster) CloseSession(sessionID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.clients[sessionID] {
		close(ch)
	}
	delete(eb.clients, sessionID)
	slog.Debug("Closed SSE streams", "session_id", sessionID)
}

// Forget drops the cached state event of a session that is being replaced.
func (eb *EventBroadcaster) Forget(sessionID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.lastState, sessionID)
}

// ClientCount returns the number of subscribers of a session
func (eb *EventBroadcaster) ClientCount(sessionID string) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients[sessionID])
}

func stateEvent(session *Session) WalkEvent {
	return WalkEvent{
		SessionID: session.ID,
		Type:      EventState,
		State:     session.State,
		Steps:     session.Steps,
		Waypoints: session.Waypoints,
		Error:     session.Error,
		Timestamp: time.Now(),
	}
}

// handleStream handles GET /api/v1/walks/{id}/stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, exists := s.sessions.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before taking the initial snapshot so no event is lost.
	events := s.sessions.Broadcaster().Subscribe(id)
	defer s.sessions.Broadcaster().Unsubscribe(id, events)

	if session, exists = s.sessions.GetSession(id); !exists {
		return
	}
	if err := writeSSEEvent(w, stateEvent(session)); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if session.State.Terminal() {
		return
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "session_id", id)
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

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes "event: <type>\ndata: <json>\n\n"
func writeSSEEvent(w http.ResponseWriter, event WalkEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
