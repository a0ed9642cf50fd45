package service

import (
	"errors"

	"cartbroker/internal/availability"
)

var (
	ErrConflict          = errors.New("no longer available")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("reservation not found")
	ErrEvidenceRequired  = errors.New("evidence required")
	ErrInvalidInterval   = availability.ErrInvalidInterval
	ErrNotifyFailed      = errors.New("notification failed")
	ErrNotAuthorized     = errors.New("not authorized")
	// ErrReturnQueued: the return is recorded and waits in the outbox.
	ErrReturnQueued = errors.New("return already recorded")

	ErrCartExists      = errors.New("cart already exists")
	ErrCartNotFound    = errors.New("cart not found")
	ErrInvalidLockCode = errors.New("lock code must be 4 digits")
	ErrInvalidName     = errors.New("name must not be empty")
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserHasBookings = errors.New("user holds a live reservation")
)
