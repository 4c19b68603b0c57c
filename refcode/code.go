// Package refcode provides the CTX reference codes that correlate every
// message moving through the runtime, plus the daily-reset generator that
// allocates them.
package refcode

import (
	"fmt"
	"regexp"
	"time"
)

// MaxSequence is the highest sequence number a single UTC day can allocate.
const MaxSequence = 9999

// codePattern accepts both the 3-digit and the widened 4-digit sequence form.
var codePattern = regexp.MustCompile(`^CTX-\d{4}-\d{4}-\d{3,4}$`)

// ReferenceCode is a tracking identifier with the shape CTX-YYYY-MMDD-NNN.
// Equality is value-based; the zero value is invalid.
type ReferenceCode string

// New builds a reference code for the given date and sequence number.
// The sequence component is 3 digits up to 999 and widens to 4 digits
// for 1000 through 9999.
func New(date time.Time, sequence int) (ReferenceCode, error) {
	if sequence <= 0 || sequence > MaxSequence {
		return "", fmt.Errorf("sequence %d out of range 1..%d", sequence, MaxSequence)
	}
	d := date.UTC()
	if sequence > 999 {
		return ReferenceCode(fmt.Sprintf("CTX-%04d-%02d%02d-%04d", d.Year(), d.Month(), d.Day(), sequence)), nil
	}
	return ReferenceCode(fmt.Sprintf("CTX-%04d-%02d%02d-%03d", d.Year(), d.Month(), d.Day(), sequence)), nil
}

// Parse validates a reference code string. Any string matching
// CTX-\d{4}-\d{4}-\d{3,4} is accepted for backward compatibility.
func Parse(s string) (ReferenceCode, error) {
	if !codePattern.MatchString(s) {
		return "", fmt.Errorf("invalid reference code %q", s)
	}
	return ReferenceCode(s), nil
}

// String returns the code's wire form.
func (c ReferenceCode) String() string { return string(c) }

// Valid reports whether the code matches the reference code pattern.
func (c ReferenceCode) Valid() bool { return codePattern.MatchString(string(c)) }
