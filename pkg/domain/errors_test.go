package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAmbiguousMatchErrorUnwraps(t *testing.T) {
	err := error(AmbiguousMatchError{BoxName: "box1", Reason: ErrNoOverlap})
	if !errors.Is(err, ErrNoOverlap) {
		t.Fatalf("expected errors.Is to find ErrNoOverlap")
	}
	if errors.Is(err, ErrNoBoxes) {
		t.Fatalf("unexpected match on ErrNoBoxes")
	}
	if !strings.Contains(err.Error(), "box1") {
		t.Fatalf("expected box name in message, got %q", err.Error())
	}
	if msg := (AmbiguousMatchError{Reason: ErrNoBoxes}).Error(); strings.Contains(msg, "for box") {
		t.Fatalf("unexpected box clause in %q", msg)
	}
}

func TestTypedErrorsMatchWithAs(t *testing.T) {
	wrapped := fmt.Errorf("reconcile: %w", UnknownBoxError{BoxName: "freezer-7"})
	var unknown UnknownBoxError
	if !errors.As(wrapped, &unknown) || unknown.BoxName != "freezer-7" {
		t.Fatalf("expected UnknownBoxError, got %v", wrapped)
	}
	cases := []error{
		ParseError{Position: "??", Pattern: "x"},
		ConfigurationError{Field: "row_start", Reason: "must be a single character"},
		DuplicateBoxError{BoxName: "box1"},
	}
	for _, c := range cases {
		if c.Error() == "" {
			t.Fatalf("empty message for %T", c)
		}
	}
}
