// Package fault classifies domain errors into the kinds callers act on.
//
// Every sentinel declared by a domain package is marked with exactly one
// kind, so transport layers can map errors without knowing each sentinel:
//
//	if errors.Is(err, fault.Condition) { ... retry later ... }
package fault

import "github.com/cockroachdb/errors"

var (
	// Validation marks malformed input: bad amounts, value mismatch, wrong token side.
	Validation = errors.New("validation")
	// Unauthorized marks calls made by the wrong identity.
	Unauthorized = errors.New("unauthorized")
	// Condition marks temporal or price conditions that may pass later.
	Condition = errors.New("condition")
	// External marks failures of collaborators such as the router or a token transfer.
	External = errors.New("external")
	// NotFound marks lookups of unknown records.
	NotFound = errors.New("not found")
)

// New returns a sentinel error with msg, marked with kind.
func New(kind error, msg string) error {
	return errors.Mark(errors.New(msg), kind)
}

// Kind reports the first kind err is marked with, or nil.
func Kind(err error) error {
	for _, k := range []error{Validation, Unauthorized, Condition, External, NotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
