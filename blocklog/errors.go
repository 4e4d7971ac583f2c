package blocklog

import "errors"

var (
	// ErrClosed is returned when a closed log or session is used.
	ErrClosed = errors.New("blocklog: closed")

	// ErrPruned is returned when reading bytes of a block whose data was cleared.
	ErrPruned = errors.New("blocklog: block data pruned")

	// ErrDigestMismatch is returned when block content does not match its digest.
	ErrDigestMismatch = errors.New("blocklog: digest mismatch")

	// ErrInvalidTable is returned when an encoded block table cannot be parsed.
	ErrInvalidTable = errors.New("blocklog: invalid block table")
)
