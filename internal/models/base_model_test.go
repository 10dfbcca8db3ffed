package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIDIsUniqueUUID(t *testing.T) {
	first, second := newID(), newID()
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("newID returned %q, not a uuid: %v", first, err)
	}
	if first == second {
		t.Fatal("expected distinct identifiers")
	}
}
