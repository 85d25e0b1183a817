package models

import "fmt"

// ProcessingStatus tracks a document through the ingestion pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusReady      ProcessingStatus = "ready"
	StatusError      ProcessingStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// StatusEvent is something that happened to a document.
type StatusEvent string

const (
	// EventStarted fires when a worker picks the document up. A document in
	// error or ready re-enters processing through re-submission; processing
	// to processing covers a job redelivered after an abandoned attempt.
	EventStarted StatusEvent = "started"
	// EventExtracted fires when extraction succeeded and the text was persisted.
	EventExtracted StatusEvent = "extracted"
	// EventFailed fires when the pipeline gave up on the current attempt.
	EventFailed StatusEvent = "failed"
)

var transitions = map[ProcessingStatus]map[StatusEvent]ProcessingStatus{
	StatusPending: {
		EventStarted: StatusProcessing,
	},
	StatusProcessing: {
		EventStarted:   StatusProcessing,
		EventExtracted: StatusReady,
		EventFailed:    StatusError,
	},
	StatusReady: {
		EventStarted: StatusProcessing,
	},
	StatusError: {
		EventStarted: StatusProcessing,
	},
}

// Transition applies ev to the current status and returns the next one. An
// undefined pair is a programming error on the caller's side, not a
// user-facing condition.
func Transition(current ProcessingStatus, ev StatusEvent) (ProcessingStatus, error) {
	next, ok := transitions[current][ev]
	if !ok {
		return current, fmt.Errorf("illegal status transition: %s + %s", current, ev)
	}
	return next, nil
}

// CanTransition reports whether ev is defined for the current status.
func CanTransition(current ProcessingStatus, ev StatusEvent) bool {
	_, ok := transitions[current][ev]
	return ok
}
