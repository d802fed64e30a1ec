// Package sentinel holds the infrastructure-fact errors returned by stores.
//
// Stores return these (optionally wrapped) and services translate them into
// domain errors. They describe storage outcomes, not input validation:
// validation failures use pkg/domain-errors directly.
package sentinel

import "errors"

var (
	// ErrNotFound: the row does not exist within the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists: a uniqueness constraint rejected the write.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict: a compare-and-swap lost against a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the row is in a state that forbids the write.
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
