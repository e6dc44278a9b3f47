package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"tubetrack/internal/scanner"
	"tubetrack/pkg/domain"
)

// Margin is the YAML form of a scanner margin. Exactly one of the keys is
// set, e.g. {absolute: 10} or {fraction: -0.05}; an empty mapping leaves the
// margin unset. Config fields hold a *Margin so that null clears it too.
type Margin struct {
	Absolute *int     `yaml:"absolute,omitempty"`
	Fraction *float64 `yaml:"fraction,omitempty"`
}

// AbsoluteMargin returns a pixel margin.
func AbsoluteMargin(px int) *Margin { return &Margin{Absolute: &px} }

// FractionMargin returns a fractional margin.
func FractionMargin(f float64) *Margin { return &Margin{Fraction: &f} }

// UnmarshalYAML replaces the whole margin, so a higher priority file never
// mixes its form with a lower priority one.
func (m *Margin) UnmarshalYAML(n *yaml.Node) error {
	type plain Margin
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	if p.Absolute != nil && p.Fraction != nil {
		return domain.ConfigurationError{Field: "margin", Reason: fmt.Sprintf("line %d sets both absolute and fraction", n.Line)}
	}
	if p.Fraction != nil && (*p.Fraction <= -2 || *p.Fraction >= 2) {
		return domain.ConfigurationError{Field: "margin", Reason: fmt.Sprintf("line %d: fraction %v outside (-2, 2)", n.Line, *p.Fraction)}
	}
	*m = Margin(p)
	return nil
}

// ScannerMargin converts to the scanner representation. A nil margin is
// unset.
func (m *Margin) ScannerMargin() scanner.Margin {
	switch {
	case m == nil:
		return scanner.Unset()
	case m.Absolute != nil:
		return scanner.Absolute(*m.Absolute)
	case m.Fraction != nil:
		return scanner.Fraction(*m.Fraction)
	default:
		return scanner.Unset()
	}
}
