package core

import "github.com/google/uuid"

// NewID returns a time-ordered UUID v7, or a random v4 if the clock source fails.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
