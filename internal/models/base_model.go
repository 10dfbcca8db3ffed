package models

import "github.com/google/uuid"

// newID generates the identifier assigned by the BeforeCreate hooks.
func newID() string {
	return uuid.NewString()
}
