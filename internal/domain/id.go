package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for application-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCorrelationID generates a fresh correlation id for threading
// observability across a pipeline and all of its job runs.
func NewCorrelationID() string {
	return uuid.NewString()
}
