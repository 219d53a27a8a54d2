package util

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string. It names request ids, queued
// jobs and stream consumers, so ids sort roughly by creation time in Redis.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
