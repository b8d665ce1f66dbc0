package uuidv7_test

import (
	"testing"

	"github.com/google/uuid"

	"pkt.systems/roomd/internal/uuidv7"
)

func TestNewReturnsOrderedUUIDv7(t *testing.T) {
	t.Parallel()

	first := uuidv7.New()
	second := uuidv7.New()
	if first.Version() != 7 {
		t.Fatalf("expected version 7 UUID, got %d", first.Version())
	}
	if first == second {
		t.Fatal("expected unique UUIDs on subsequent calls")
	}
	if first.String() > second.String() {
		t.Fatalf("expected time ordering, got %s then %s", first, second)
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !uuidv7.Valid(uuidv7.NewString()) {
		t.Fatal("expected generated id to be valid")
	}
	if !uuidv7.Valid(uuid.NewString()) {
		t.Fatal("expected v4 id to be accepted")
	}
	if uuidv7.Valid("room-1") {
		t.Fatal("expected non-uuid to be rejected")
	}
}
