package id

import "github.com/google/uuid"

// New returns a random job identifier.
func New() string {
	return uuid.NewString()
}
