package device

import "errors"

// Initialization errors. All are fatal to the load attempt; the caller
// aborts startup when any of them is returned.
var (
	// ErrMajorAllocation signals that the major number allocation, the
	// first registration phase, failed. Nothing to roll back.
	ErrMajorAllocation = errors.New("failed to allocate major number")

	// ErrClassCreation signals that class creation failed. The major
	// number from the prior phase has already been released when this
	// is returned.
	ErrClassCreation = errors.New("failed to create device class")

	// ErrNodeCreation signals that node creation failed. Both the class
	// and the major number have already been released.
	ErrNodeCreation = errors.New("failed to create device node")

	// ErrNameTooLong signals that the derived device name does not fit
	// the fixed name buffer.
	ErrNameTooLong = errors.New("device name exceeds maximum length")
)
