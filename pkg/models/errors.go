package models

import "errors"

var (
	// ErrNotFound is returned for an unknown user, property or job id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord marks a record that is structurally unusable, as opposed
	// to one with missing or malformed optional attributes.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrPassInProgress is returned when a recomputation pass of the same
	// entity class is already running in this process.
	ErrPassInProgress = errors.New("similarity pass already in progress")
)
