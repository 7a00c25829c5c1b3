package caps

import "errors"

var (
	// ErrNoTarget is returned when a policy is constructed without a single
	// usable role target.
	ErrNoTarget = errors.New("caps: policy requires at least one target role")

	// ErrNotFound indicates the referenced user could not be resolved.
	ErrNotFound = errors.New("caps: not found")

	// ErrInvalidInput marks programming misuse at the engine boundary.
	ErrInvalidInput = errors.New("caps: invalid input")
)
