package blobstream

import "fmt"

// ID locates a blob inside a block store.
type ID struct {
	// BlockOffset is the index of the first block of the blob.
	BlockOffset int64
	// BlockLength is the number of blocks the blob spans.
	BlockLength int64
	// ByteOffset is the position of the blob's first byte in the store.
	ByteOffset int64
	// ByteLength is the logical size of the blob in bytes.
	ByteLength int64
}

// BlockEnd returns the exclusive end of the blob's block range.
func (id ID) BlockEnd() int64 {
	return id.BlockOffset + id.BlockLength
}

// Validate reports whether the identifier describes a possible layout.
func (id ID) Validate() error {
	switch {
	case id.BlockOffset < 0:
		return fmt.Errorf("%w: negative block offset %d", ErrInvalidID, id.BlockOffset)
	case id.BlockLength < 0:
		return fmt.Errorf("%w: negative block length %d", ErrInvalidID, id.BlockLength)
	case id.ByteOffset < 0:
		return fmt.Errorf("%w: negative byte offset %d", ErrInvalidID, id.ByteOffset)
	case id.ByteLength < 0:
		return fmt.Errorf("%w: negative byte length %d", ErrInvalidID, id.ByteLength)
	case id.BlockLength == 0 && id.ByteLength > 0:
		return fmt.Errorf("%w: %d bytes in an empty block range", ErrInvalidID, id.ByteLength)
	}
	return nil
}

// storeID spans every block and byte of a ready store.
func storeID(s Store) ID {
	return ID{
		BlockOffset: 0,
		BlockLength: s.Len(),
		ByteOffset:  0,
		ByteLength:  s.ByteLen(),
	}
}
