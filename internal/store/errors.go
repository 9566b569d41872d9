package store

import "errors"

var (
	ErrAllocationConflict = errors.New("queue number allocation conflict")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrDuplicateIngestion = errors.New("booking already materialized")
)
