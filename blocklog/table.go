package blocklog

import (
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/blobstream/blocklog/internal/fb"
)

// tableVersion is the encoding version written by MarshalBinary.
const tableVersion = 1

// Table describes the blocks of a log: their lengths, digests, and byte
// positions. A Table is not safe for concurrent mutation.
type Table struct {
	lengths []int64
	digests []digest.Digest
	offsets []int64 // offsets[i] is the first byte of block i; offsets[Len()] is ByteLen()
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{offsets: []int64{0}}
}

// Append records a block and returns its index.
func (t *Table) Append(length int64, d digest.Digest) int64 {
	index := int64(len(t.lengths))
	t.lengths = append(t.lengths, length)
	t.digests = append(t.digests, d)
	t.offsets = append(t.offsets, t.offsets[index]+length)
	return index
}

// Len returns the number of blocks.
func (t *Table) Len() int64 {
	return int64(len(t.lengths))
}

// ByteLen returns the total number of bytes across all blocks.
func (t *Table) ByteLen() int64 {
	return t.offsets[len(t.offsets)-1]
}

// Length returns the length of block i. It panics if i is out of range.
func (t *Table) Length(i int64) int64 {
	return t.lengths[i]
}

// Offset returns the position of the first byte of block i. Offset(Len())
// is ByteLen(). It panics if i is out of range.
func (t *Table) Offset(i int64) int64 {
	return t.offsets[i]
}

// Digest returns the digest of block i. It panics if i is out of range.
func (t *Table) Digest(i int64) digest.Digest {
	return t.digests[i]
}

// Has reports whether i is the index of a block.
func (t *Table) Has(i int64) bool {
	return i >= 0 && i < t.Len()
}

// Locate resolves byteOffset to a block and the offset of the byte inside it,
// considering only the blocks [start, end).
//
// An offset equal to the byte end of the range resolves to (end, 0).
// Offsets outside the range, and ranges outside the table, are not found.
// Empty blocks never contain an offset.
func (t *Table) Locate(byteOffset, start, end int64) (index, offset int64, ok bool) {
	if start < 0 || end > t.Len() || start > end {
		return 0, 0, false
	}
	lo, hi := t.offsets[start], t.offsets[end]
	if byteOffset < lo || byteOffset > hi {
		return 0, 0, false
	}
	if byteOffset == hi {
		return end, 0, true
	}
	n := int(end - start)
	i := start + int64(sort.Search(n, func(k int) bool {
		return t.offsets[start+int64(k)+1] > byteOffset
	}))
	return i, byteOffset - t.offsets[i], true
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	return &Table{
		lengths: append([]int64(nil), t.lengths...),
		digests: append([]digest.Digest(nil), t.digests...),
		offsets: append([]int64(nil), t.offsets...),
	}
}

// MarshalBinary serializes the table to FlatBuffers.
func (t *Table) MarshalBinary() ([]byte, error) {
	builder := flatbuffers.NewBuilder(1024)

	// Build blocks in reverse order (FlatBuffers requirement)
	n := len(t.lengths)
	blockOffsets := make([]flatbuffers.UOffsetT, n)
	for i := n - 1; i >= 0; i-- {
		digestOffset := builder.CreateString(t.digests[i].String())

		fb.BlockStart(builder)
		fb.BlockAddLength(builder, uint64(t.lengths[i])) //nolint:gosec // lengths are never negative
		fb.BlockAddDigest(builder, digestOffset)
		blockOffsets[i] = fb.BlockEnd(builder)
	}

	fb.BlockTableStartBlocksVector(builder, n)
	for i := n - 1; i >= 0; i-- {
		builder.PrependUOffsetT(blockOffsets[i])
	}
	blocksOffset := builder.EndVector(n)

	fb.BlockTableStart(builder)
	fb.BlockTableAddVersion(builder, tableVersion)
	fb.BlockTableAddBlocks(builder, blocksOffset)
	fb.BlockTableAddByteLength(builder, uint64(t.ByteLen())) //nolint:gosec // byte length is never negative
	builder.Finish(fb.BlockTableEnd(builder))

	return builder.FinishedBytes(), nil
}

// UnmarshalTable parses a table produced by MarshalBinary.
func UnmarshalTable(data []byte) (t *Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			t = nil
			err = fmt.Errorf("%w: %v", ErrInvalidTable, r)
		}
	}()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrInvalidTable)
	}

	root := fb.GetRootAsBlockTable(data, 0)
	if v := root.Version(); v != tableVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidTable, v)
	}

	t = NewTable()
	var block fb.Block
	for i := range root.BlocksLength() {
		if !root.Blocks(&block, i) {
			return nil, fmt.Errorf("%w: block %d missing", ErrInvalidTable, i)
		}
		d, err := digest.Parse(string(block.Digest()))
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %w", ErrInvalidTable, i, err)
		}
		length := block.Length()
		if length > uint64(1<<62) {
			return nil, fmt.Errorf("%w: block %d length %d", ErrInvalidTable, i, length)
		}
		t.Append(int64(length), d)
	}
	if uint64(t.ByteLen()) != root.ByteLength() { //nolint:gosec // byte length is never negative
		return nil, fmt.Errorf("%w: byte length %d, blocks sum to %d", ErrInvalidTable, root.ByteLength(), t.ByteLen())
	}
	return t, nil
}
