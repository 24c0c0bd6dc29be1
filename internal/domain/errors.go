package domain

import "errors"

var (
	ErrItemNotFound = errors.New("item not found")

	// ErrStorageConflict marks a transient isolation failure. The whole
	// admission attempt may be retried.
	ErrStorageConflict = errors.New("storage conflict")

	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidAmount = errors.New("invalid offer amount")
)
