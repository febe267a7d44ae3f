// Package detection turns message text and behavioral context into a graded
// crisis severity verdict. Every function in this package is deterministic and
// free of I/O so it can be called concurrently against a shared Catalog.
package detection

import (
	"fmt"
	"strings"
)

// Severity is the single ordered severity scale used across the pipeline.
// The zero value is SeverityNone.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	SeverityNone:     "NONE",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// String returns the canonical upper-case name.
func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether s is one of the defined levels.
func (s Severity) Valid() bool {
	return s >= SeverityNone && s <= SeverityCritical
}

// ParseSeverity accepts any casing ("high", "HIGH", "High").
func ParseSeverity(raw string) (Severity, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("detection: unknown severity %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("detection: invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the highest of the given levels.
func MaxSeverity(levels ...Severity) Severity {
	highest := SeverityNone
	for _, l := range levels {
		if l > highest {
			highest = l
		}
	}
	return highest
}
