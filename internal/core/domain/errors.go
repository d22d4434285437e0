package domain

import (
	"errors"
)

// Sentinel errors shared by the store backends and the service layer.
// Administrative callers branch on these; the verification path folds the
// state-dependent ones into valid=false results instead.
var (
	// ErrNotFound indicates the license key is absent from the store.
	ErrNotFound = errors.New("license not found")

	// ErrAlreadyExists indicates a create collided with an existing key.
	ErrAlreadyExists = errors.New("license key already exists")

	// ErrMaxActivations indicates the activation ledger is full.
	ErrMaxActivations = errors.New("maximum activations reached")

	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation error")

	// ErrAuth indicates a bad credential, token, or API key.
	ErrAuth = errors.New("authentication failed")
)
