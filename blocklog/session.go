package blocklog

import (
	"context"
	"sync"

	"github.com/meigma/blobstream"
)

// Interface compliance.
var _ blobstream.Store = (*Session)(nil)

// Session is a handle to a Log that implements blobstream.Store.
// Closing a session does not affect the log or other sessions.
type Session struct {
	log      *Log
	prefetch bool

	mu     sync.Mutex
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithoutPrefetch makes the session report that it does not accept
// look-ahead fetches.
func WithoutPrefetch() SessionOption {
	return func(s *Session) {
		s.prefetch = false
	}
}

// Session opens a new handle to the log.
func (l *Log) Session(opts ...SessionOption) *Session {
	s := &Session{
		log:      l,
		prefetch: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Ready fails if the session or the log is closed.
func (s *Session) Ready(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.log.isClosed() {
		return ErrClosed
	}
	return nil
}

// Len returns the number of blocks in the log.
func (s *Session) Len() int64 {
	return s.log.Len()
}

// ByteLen returns the number of bytes in the log.
func (s *Session) ByteLen() int64 {
	return s.log.ByteLen()
}

// Get returns block index from the log.
func (s *Session) Get(ctx context.Context, index int64) ([]byte, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	block, ok := s.log.Get(index)
	return block, ok, nil
}

// Seek resolves byteOffset within r using the log's block table.
func (s *Session) Seek(ctx context.Context, byteOffset int64, r blobstream.SeekRange) (int64, int64, bool, error) {
	if err := s.check(ctx); err != nil {
		return 0, 0, false, err
	}
	index, offset, ok := s.log.Locate(byteOffset, r.Start, r.End)
	return index, offset, ok, nil
}

// CanPrefetch reports whether the session accepts look-ahead fetches.
func (s *Session) CanPrefetch() bool {
	return s.prefetch
}

// Close releases the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
