package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventTurnStart    EventKind = "turn_start"
	EventPerceived    EventKind = "perceived"
	EventPlanReceived EventKind = "plan_received"
	EventStepStart    EventKind = "step_start"
	EventStepEnd      EventKind = "step_end"
	EventStepRepeated EventKind = "step_repeated"
	EventReportReady  EventKind = "report_ready"
	EventLearned      EventKind = "learned"
	EventTurnEnd      EventKind = "turn_end"
	EventWarning      EventKind = "warning"
	EventError        EventKind = "error"
)

// LoopEvent is a typed event emitted as the executor moves through its
// states.
type LoopEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers loop events to the host application via a buffered
// channel. A full channel drops events rather than blocking the loop.
type EventEmitter struct {
	sessionID string
	ch        chan LoopEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an emitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan LoopEvent, bufferSize),
	}
}

// Emit sends an event. Events emitted after Close are silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := LoopEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop rather than block the loop.
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan LoopEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
