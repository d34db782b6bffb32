package entity

import "errors"

// Domain error kinds shared between services, storage and HTTP handlers.
// Storage implementations must return these (possibly wrapped) so callers
// can branch with errors.Is.
var (
	// ErrValidation marks a missing or malformed required field.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateCode is returned when inserting a warranty number
	// whose code already exists in the pool.
	ErrDuplicateCode = errors.New("duplicate warranty code")

	// ErrNotFound is returned when a record or code is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyUsed is returned by a conditional mark-used update when
	// the code has already been consumed, including a lost race.
	ErrAlreadyUsed = errors.New("warranty code already used")

	// ErrInvalidCode is the merged public-facing registration error.
	// Nonexistent, consumed and wrong-product codes all map here so the
	// endpoint does not leak pool contents.
	ErrInvalidCode = errors.New("invalid or mismatched warranty code")

	// ErrPartialRegistration marks a registration that was created but
	// could not be linked to its pool entry. Operator reconciliation is
	// required; the registration itself is never discarded.
	ErrPartialRegistration = errors.New("registration created but code link failed")
)
