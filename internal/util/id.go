package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used for entity and request ids.
func NewID() string {
	return uuid.NewString()
}
