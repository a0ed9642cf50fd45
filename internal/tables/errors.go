package tables

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient marks failures worth retrying: rate limits, server errors,
	// timeouts.
	ErrTransient = errors.New("transient table error")
	// ErrPermanent marks failures that will not go away on retry.
	ErrPermanent = errors.New("permanent table error")
	// ErrRowNotFound is returned when no row carries the requested key.
	ErrRowNotFound = errors.New("row not found")
	// ErrUnknownColumn is returned when the header has no such column.
	ErrUnknownColumn = errors.New("unknown column")
)

// Transient wraps err so that IsTransient reports true.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err so that IsTransient reports false.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient reports whether err is worth another attempt. Unclassified
// network errors and per-attempt deadlines count as transient; cancellation of
// the caller's context does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
