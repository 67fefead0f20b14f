package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as an analysis identifier.
// Identifiers are unique per submission and never reused.
func NewID() string {
	return ulid.Make().String()
}
