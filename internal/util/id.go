package util

import "github.com/google/uuid"

// NewRecordID returns a time-ordered identifier, so children added to the same
// collection sort by insertion when listed by key.
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NewRequestID() string {
	return uuid.NewString()
}
