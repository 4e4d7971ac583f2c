package blobstream

import "errors"

// Sentinel errors returned by Stream. Callers match them with errors.Is;
// returned errors may wrap a cause from the store.
var (
	// ErrBlockNotAvailable is returned when the store has no data for a
	// required block, or a seek target does not exist in the store.
	ErrBlockNotAvailable = errors.New("blobstream: block not available")

	// ErrStoreNotReady is returned when the store fails its readiness check
	// while the stream opens.
	ErrStoreNotReady = errors.New("blobstream: store not ready")

	// ErrDestroyed is returned by operations that were pending, or started,
	// after the stream was destroyed.
	ErrDestroyed = errors.New("blobstream: destroyed")

	// ErrAlreadyBound is returned by Start when the stream already has a
	// store and identifier.
	ErrAlreadyBound = errors.New("blobstream: already bound")

	// ErrInvalidID is returned when an ID describes an impossible layout.
	ErrInvalidID = errors.New("blobstream: invalid id")
)
