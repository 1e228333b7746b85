package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string. ULIDs sort by creation time and name stored
// objects such as uploaded images.
func NewID() string {
	return ulid.Make().String()
}

// NewTaskID generates a UUID for task-level entities (requests and pages).
func NewTaskID() string {
	return uuid.NewString()
}

// ValidTaskID reports whether s is a well-formed task id.
func ValidTaskID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
