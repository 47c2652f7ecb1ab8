package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfWrapped(t *testing.T) {
	err := Conflict("Graph.AddTrick", ErrCycleDetected, "a -> b -> a")
	wrapped := fmt.Errorf("outer: %w", err)

	if !IsCode(wrapped, CodeConflict) {
		t.Fatalf("expected conflict code, got %q", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, ErrCycleDetected) {
		t.Fatalf("expected errors.Is to find the kind")
	}
	if errors.Is(wrapped, ErrDuplicateSlug) {
		t.Fatalf("unexpected kind match")
	}
}

func TestCodeOfUncoded(t *testing.T) {
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
	if Wrap(CodeInternal, "op", nil) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
}

func TestErrorString(t *testing.T) {
	err := NotFound("Queue.Resolve", ErrNotFound, "item %s", "abc")
	want := "Queue.Resolve: item abc (not_found)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = Integrity("Queue.Resolve", "")
	if err.Error() != "Queue.Resolve (integrity_violation)" {
		t.Errorf("Error() = %q", err.Error())
	}
}
