package database

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyHeld is returned when a hold attempt loses the race to a
	// live hold owned by another holder.
	ErrAlreadyHeld = errors.New("resource already held")

	// ErrNotHolder is returned when a release names a holder that does not
	// own the hold.
	ErrNotHolder = errors.New("hold not owned by holder")

	// ErrConcurrentModification is returned when a versioned update finds
	// the row changed underneath it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotAvailable is returned when a resource cannot accept a hold
	// because it is inactive or out of service.
	ErrNotAvailable = errors.New("resource not available")

	// ErrInconsistentCancel is returned when a cancellation removed the
	// booking but could not reset the resource flag in the same transaction.
	ErrInconsistentCancel = errors.New("cancel left resource flag inconsistent")
)
