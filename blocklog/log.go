package blocklog

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Log is an in-memory append-only block log. Blocks are addressed by index
// and carry the digest of their content. The log is safe for concurrent use.
//
// Block slices returned by the log alias its storage and must not be
// modified.
type Log struct {
	mu        sync.RWMutex
	table     *Table
	blocks    [][]byte // nil entries are pruned
	closed    bool
	algorithm digest.Algorithm
	logger    *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithDigestAlgorithm sets the algorithm used to address blocks.
// Defaults to digest.Canonical (sha256).
func WithDigestAlgorithm(alg digest.Algorithm) Option {
	return func(l *Log) {
		l.algorithm = alg
	}
}

// WithLogger sets the logger for log operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		table:     NewTable(),
		algorithm: digest.Canonical,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// log returns the logger, falling back to a discard logger if nil.
func (l *Log) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

// Append adds blocks to the end of the log and returns the index of the
// first one. The log keeps its own copy of every block.
func (l *Log) Append(blocks ...[]byte) (int64, error) {
	if !l.algorithm.Available() {
		return 0, fmt.Errorf("blocklog: digest algorithm %q unavailable", l.algorithm)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	first := l.table.Len()
	for _, block := range blocks {
		data := append([]byte{}, block...)
		l.table.Append(int64(len(data)), l.algorithm.FromBytes(data))
		l.blocks = append(l.blocks, data)
	}
	l.log().Debug("blocks appended", "first", first, "count", len(blocks), "byte_length", l.table.ByteLen())
	return first, nil
}

// Clear prunes the data of blocks [start, end). Their metadata stays in the
// table, so seeks still resolve, but Get reports them as absent.
func (l *Log) Clear(start, end int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start = max(start, 0)
	end = min(end, l.table.Len())
	for i := start; i < end; i++ {
		l.blocks[i] = nil
	}
	if start < end {
		l.log().Debug("blocks cleared", "start", start, "end", end)
	}
}

// Len returns the number of blocks in the log.
func (l *Log) Len() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Len()
}

// ByteLen returns the number of bytes in the log.
func (l *Log) ByteLen() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.ByteLen()
}

// Get returns block index. ok is false if the block does not exist or was
// cleared.
func (l *Log) Get(index int64) (block []byte, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.table.Has(index) {
		return nil, false
	}
	block = l.blocks[index]
	if block == nil {
		return nil, false
	}
	return block, true
}

// Digest returns the digest of block index.
func (l *Log) Digest(index int64) (digest.Digest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.table.Has(index) {
		return "", false
	}
	return l.table.Digest(index), true
}

// Locate resolves byteOffset within the blocks [start, end). See Table.Locate.
func (l *Log) Locate(byteOffset, start, end int64) (index, offset int64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Locate(byteOffset, start, end)
}

// Table returns a snapshot of the log's block table.
func (l *Log) Table() *Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Clone()
}

// Size returns the number of bytes in the log. With ReadAt it lets the log
// be served as a single byte range.
func (l *Log) Size() int64 {
	return l.ByteLen()
}

// ReadAt reads the concatenated bytes of all blocks. Reading bytes of a
// cleared block fails with ErrPruned.
func (l *Log) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.table.ByteLen()
	if off >= size {
		return 0, io.EOF
	}
	index, rel, _ := l.table.Locate(off, 0, l.table.Len())

	var n int
	for n < len(p) && index < l.table.Len() {
		block := l.blocks[index]
		if block == nil && l.table.Length(index) > 0 {
			return n, fmt.Errorf("%w: block %d", ErrPruned, index)
		}
		n += copy(p[n:], block[rel:])
		rel = 0
		index++
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close marks the log closed. Appends and new readiness checks fail with
// ErrClosed; sessions that are already ready keep reading.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Log) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}
