package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for jobs submitted without a caller id.
func NewID() string {
	return ulid.Make().String()
}
