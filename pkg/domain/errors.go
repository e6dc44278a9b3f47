package domain

import (
	"errors"
	"fmt"
)

// ParseError is returned when a position string does not match the expected
// row-letter/column-number pattern.
type ParseError struct {
	Position string
	Pattern  string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("could not parse grid coordinate from position %q (pattern %s)", e.Position, e.Pattern)
}

// ConfigurationError is returned for invalid format or geometry parameters.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownBoxError is returned when an operation references a box that is
// absent from the boxes table and auto-creation is disabled.
type UnknownBoxError struct {
	BoxName string
}

func (e UnknownBoxError) Error() string {
	return fmt.Sprintf("box %s not found", e.BoxName)
}

// DuplicateBoxError is returned by AddBox when the box already exists.
type DuplicateBoxError struct {
	BoxName string
}

func (e DuplicateBoxError) Error() string {
	return fmt.Sprintf("box %s already exists", e.BoxName)
}

var (
	// ErrNoBoxes reports that there are no boxes to match a scan against.
	ErrNoBoxes = errors.New("no boxes to match against")
	// ErrNoOverlap reports that two coordinate sets share no values, so no
	// rotation comparison is possible.
	ErrNoOverlap = errors.New("no shared values between coordinate sets")
)

// AmbiguousMatchError wraps ErrNoBoxes or ErrNoOverlap with the box the
// lookup concerned.
type AmbiguousMatchError struct {
	BoxName string
	Reason  error
}

func (e AmbiguousMatchError) Error() string {
	if e.BoxName == "" {
		return fmt.Sprintf("ambiguous match: %v", e.Reason)
	}
	return fmt.Sprintf("ambiguous match for box %s: %v", e.BoxName, e.Reason)
}

func (e AmbiguousMatchError) Unwrap() error { return e.Reason }

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "reconciliation blocked by rules"
}
