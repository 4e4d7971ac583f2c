package blobstream

import "context"

// SeekRange bounds a seek to the block indices [Start, End).
type SeekRange struct {
	Start int64
	End   int64
}

// Store is a handle to an append-only block log.
//
// A Stream takes ownership of the Store it is bound to and calls Close
// exactly once during teardown. Get may be called concurrently by the
// stream's read-ahead window when CanPrefetch reports true.
type Store interface {
	// Ready blocks until the store's length fields can be trusted.
	// It is called on every open and must be cheap once the store is ready.
	Ready(ctx context.Context) error

	// Len returns the number of blocks in the store.
	Len() int64

	// ByteLen returns the total number of bytes in the store.
	ByteLen() int64

	// Get returns the block at index. ok is false when the store has no
	// data for the block, for example because it was pruned or never
	// replicated.
	Get(ctx context.Context, index int64) (block []byte, ok bool, err error)

	// Seek resolves byteOffset to the block containing it and the offset
	// of the byte inside that block, searching only blocks in r. An offset
	// equal to the byte end of r resolves to (r.End, 0). ok is false when
	// the offset cannot be resolved.
	Seek(ctx context.Context, byteOffset int64, r SeekRange) (index, offset int64, ok bool, err error)

	// CanPrefetch reports whether the store accepts look-ahead fetches.
	// Reduced or synthetic views return false and are read on demand only.
	CanPrefetch() bool

	// Close releases the handle.
	Close() error
}
