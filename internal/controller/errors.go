package controller

import "errors"

// Validation
var (
	ErrInvalidAddress = errors.New("invalid provider address")
	ErrInvalidRequest = errors.New("invalid request")
)

// Conflict
var (
	ErrJobNotPending        = errors.New("job is not pending")
	ErrJobCompleted         = errors.New("job already completed")
	ErrAssignmentInProgress = errors.New("job has an assignment in progress")
)

// Unavailable
var ErrNoEligibleNode = errors.New("no eligible node available")

// Infrastructure
var (
	ErrLedger  = errors.New("ledger operation failed")
	ErrPersist = errors.New("failed to persist state")
	ErrStorage = errors.New("failed to read stored records")
)

// ErrStopped is returned once the controller has been stopped.
var ErrStopped = errors.New("controller stopped")
