// Package uuid generates and validates the v4 identifiers used for
// queue records.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a new random v4 id in canonical form.
func New() string {
	return uuid.NewString()
}

// IsValid reports whether s is a v4 id in the canonical 36-character
// form. Braced and urn-prefixed spellings are rejected; records never
// store them.
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Validate returns an error if the string is not a valid v4 id.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
