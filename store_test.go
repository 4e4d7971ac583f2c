package blobstream_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meigma/blobstream"
)

// memStore is an in-memory block store with hooks for failure injection.
type memStore struct {
	blocks   [][]byte
	offsets  []int64
	prefetch bool

	readyErr error
	closeErr error
	getErr   error
	missing  map[int64]bool
	gate     chan struct{} // when non-nil, Get waits for it to close

	// When non-nil, Ready waits for readyGate to close without watching ctx.
	readyGate  chan struct{}
	readyCalls atomic.Int32

	mu     sync.Mutex
	gets   []int64
	closes atomic.Int32
}

func newMemStore(blocks ...string) *memStore {
	s := &memStore{prefetch: true, offsets: []int64{0}}
	for _, b := range blocks {
		s.blocks = append(s.blocks, []byte(b))
		s.offsets = append(s.offsets, s.offsets[len(s.offsets)-1]+int64(len(b)))
	}
	return s
}

func (s *memStore) Ready(context.Context) error {
	s.readyCalls.Add(1)
	if s.readyGate != nil {
		<-s.readyGate
	}
	return s.readyErr
}

func (s *memStore) Len() int64 { return int64(len(s.blocks)) }

func (s *memStore) ByteLen() int64 { return s.offsets[len(s.offsets)-1] }

func (s *memStore) Get(ctx context.Context, index int64) ([]byte, bool, error) {
	s.mu.Lock()
	s.gets = append(s.gets, index)
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	if index < 0 || index >= s.Len() || s.missing[index] {
		return nil, false, nil
	}
	return s.blocks[index], true, nil
}

func (s *memStore) Seek(_ context.Context, byteOffset int64, r blobstream.SeekRange) (int64, int64, bool, error) {
	if r.Start < 0 || r.End > s.Len() || r.Start > r.End {
		return 0, 0, false, nil
	}
	if byteOffset == s.offsets[r.End] {
		return r.End, 0, true, nil
	}
	for i := r.Start; i < r.End; i++ {
		if byteOffset >= s.offsets[i] && byteOffset < s.offsets[i+1] {
			return i, byteOffset - s.offsets[i], true, nil
		}
	}
	return 0, 0, false, nil
}

func (s *memStore) CanPrefetch() bool { return s.prefetch }

func (s *memStore) Close() error {
	s.closes.Add(1)
	return s.closeErr
}

func (s *memStore) fetched() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.gets...)
}

// wholeID spans every block of s.
func wholeID(s *memStore) *blobstream.ID {
	return &blobstream.ID{BlockLength: s.Len(), ByteLength: s.ByteLen()}
}
