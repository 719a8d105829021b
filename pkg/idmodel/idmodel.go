// Package idmodel validates the ProgramID identifier shared by every
// store, chain, and HTTP operation in SolDocs.
package idmodel

import (
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

// pattern mirrors the base58 alphabet Solana addresses use: no 0, O, I, l.
var pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidationError is returned whenever an operation is given a malformed
// ProgramID. It never reaches the agent loop; the HTTP surface maps it to
// a 400 response.
type ValidationError struct {
	ProgramID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid program id %q: %s", e.ProgramID, e.Reason)
}

// Validate checks a ProgramID against the base58[32..44] shape and confirms
// it decodes as base58. Every character the pattern admits is in the base58
// alphabet, so the decode is a confirming check: it rejects nothing the
// pattern has already accepted.
func Validate(programID string) error {
	if !pattern.MatchString(programID) {
		return &ValidationError{ProgramID: programID, Reason: "must be 32-44 base58 characters"}
	}
	if _, err := base58.Decode(programID); err != nil {
		return &ValidationError{ProgramID: programID, Reason: "not valid base58: " + err.Error()}
	}
	return nil
}

// IsValid is a convenience boolean wrapper around Validate.
func IsValid(programID string) bool {
	return Validate(programID) == nil
}
