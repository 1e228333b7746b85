package model

import (
	"fmt"
	"time"
)

// PageState is the lifecycle state of a single page.
type PageState string

// Page state constants.
const (
	PageCreated          PageState = "CREATED"
	PageWaiting          PageState = "WAITING"
	PageProcessing       PageState = "PROCESSING"
	PageProcessed        PageState = "PROCESSED"
	PageNotFound         PageState = "NOT_FOUND"
	PageInvalidFile      PageState = "INVALID_FILE"
	PageProcessingFailed PageState = "PROCESSING_FAILED"
	PageCanceled         PageState = "CANCELED"
	PageExpired          PageState = "EXPIRED"
)

// PageStates lists every state in lifecycle order.
var PageStates = []PageState{
	PageCreated, PageWaiting, PageProcessing, PageProcessed, PageNotFound,
	PageInvalidFile, PageProcessingFailed, PageCanceled, PageExpired,
}

// TerminalStates are the states from which no worker-driven transition occurs.
var TerminalStates = []PageState{
	PageProcessed, PageNotFound, PageInvalidFile, PageProcessingFailed, PageCanceled, PageExpired,
}

// CancelableStates are the states an owner-initiated cancel moves to CANCELED.
var CancelableStates = []PageState{PageCreated, PageWaiting, PageProcessing}

// IsTerminal reports whether s is a terminal state.
func (s PageState) IsTerminal() bool {
	switch s {
	case PageProcessed, PageNotFound, PageInvalidFile, PageProcessingFailed, PageCanceled, PageExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s PageState) Valid() bool {
	for _, known := range PageStates {
		if s == known {
			return true
		}
	}
	return false
}

// validTransitions maps each state to the set of states it may transition to.
var validTransitions = map[PageState]map[PageState]bool{
	PageCreated: {
		PageWaiting:  true,
		PageCanceled: true,
	},
	PageWaiting: {
		PageProcessing: true,
		PageCanceled:   true,
	},
	PageProcessing: {
		PageWaiting:          true,
		PageProcessed:        true,
		PageNotFound:         true,
		PageInvalidFile:      true,
		PageProcessingFailed: true,
		PageCanceled:         true,
	},
	PageProcessed: {
		PageExpired: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to PageState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// FailKind is the closed set of failures a worker may report for a page.
type FailKind string

// Fail kind constants.
const (
	FailNotFound         FailKind = "NOT_FOUND"
	FailInvalidFile      FailKind = "INVALID_FILE"
	FailProcessingFailed FailKind = "PROCESSING_FAILED"
)

// ParseFailKind converts a reported failure type into a FailKind.
func ParseFailKind(s string) (FailKind, error) {
	switch FailKind(s) {
	case FailNotFound, FailInvalidFile, FailProcessingFailed:
		return FailKind(s), nil
	}
	return "", fmt.Errorf("unknown fail kind %q", s)
}

// State returns the terminal page state recorded for the failure.
func (k FailKind) State() PageState {
	switch k {
	case FailNotFound:
		return PageNotFound
	case FailInvalidFile:
		return PageInvalidFile
	case FailProcessingFailed:
		return PageProcessingFailed
	}
	panic(fmt.Sprintf("model: unhandled fail kind %q", string(k)))
}

// IsSystemFailure reports whether the failure points at the processing system
// rather than the submitted input.
func (k FailKind) IsSystemFailure() bool {
	return k == FailProcessingFailed
}

// Page is one image of a request, processed independently.
type Page struct {
	ID                  string     `json:"id"`
	RequestID           string     `json:"request_id"`
	Name                string     `json:"name"`
	URL                 *string    `json:"url,omitempty"`
	State               PageState  `json:"state"`
	Score               *float64   `json:"score,omitempty"`
	Traceback           *string    `json:"traceback,omitempty"`
	EngineVersionID     *int64     `json:"engine_version_id,omitempty"`
	ProcessingTimestamp *time.Time `json:"processing_timestamp,omitempty"`
	FinishTimestamp     *time.Time `json:"finish_timestamp,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}
