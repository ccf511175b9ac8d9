package rush

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("rush: no store configured")
	ErrStoreClosed = errors.New("rush: store closed")

	// Not found errors.
	ErrJobNotFound       = errors.New("rush: job not found")
	ErrCandidateNotFound = errors.New("rush: candidate not found")
	ErrEscrowNotFound    = errors.New("rush: escrow not found")
	ErrEventNotFound     = errors.New("rush: event not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("rush: job already exists")
	ErrEscrowAlreadyExists = errors.New("rush: escrow already exists")
	ErrConflict            = errors.New("rush: version conflict")

	// Lock errors.
	ErrLockHeld    = errors.New("rush: lock held by another candidate")
	ErrLockExpired = errors.New("rush: lock expired")
	ErrNotLocked   = errors.New("rush: job not locked")

	// State errors.
	ErrInvalidState      = errors.New("rush: invalid state transition")
	ErrAlreadyAssigned   = errors.New("rush: worker already assigned")
	ErrAlreadyResolved   = errors.New("rush: job already resolved")
	ErrAlreadyFailed     = errors.New("rush: job already failed")
	ErrWaveLimitExceeded = errors.New("rush: wave limit exceeded")

	// Actor errors.
	ErrUnauthorized = errors.New("rush: actor not authorized")

	// Escrow errors.
	ErrInvalidAmount = errors.New("rush: invalid escrow amount")
)
