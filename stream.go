package blobstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/meigma/blobstream/internal/prefetch"
)

// Interface compliance.
var (
	_ io.ReadCloser = (*Stream)(nil)
	_ io.WriterTo   = (*Stream)(nil)
)

// Stream reads a byte range of a blob, one block at a time.
//
// Chunks are pulled with Next, or through the io.Reader and io.WriterTo
// adapters. A single consumer drives the stream; Start and Destroy may be
// called from other goroutines.
//
// The stream opens on the first pull. Reaching the end of the range or
// failing releases the read-ahead window and closes the store; Close is
// still safe to call and reports the outcome of closing the store.
type Stream struct {
	cfg    config
	ctx    context.Context // cancelled on destroy
	cancel context.CancelFunc

	mu         sync.Mutex
	store      Store
	id         ID
	bound      bool
	bindCh     chan struct{} // closed once bound or destroyed
	destroyed  bool
	destroyErr error
	window     *prefetch.Window

	teardownOnce sync.Once
	teardownErr  error

	// Owned by the consuming goroutine.
	src            Store
	opened         bool
	ended          bool
	err            error
	index          int64
	blockEnd       int64
	relativeOffset int64
	remaining      int64
	pending        []byte
}

// New creates a stream over the blob id inside store.
//
// If store or id is nil the stream is deferred: the first pull waits until
// Start supplies the missing parts, or the stream is destroyed.
func New(store Store, id *ID, opts ...Option) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		cfg:    newConfig(opts),
		ctx:    ctx,
		cancel: cancel,
		store:  store,
		bindCh: make(chan struct{}),
	}
	if store != nil && id != nil {
		s.id = *id
		s.bound = true
		close(s.bindCh)
	}
	return s
}

// One creates a stream that treats the whole store as a single blob.
//
// The blob's layout is taken from the store once it is ready. If the store
// fails to become ready the stream is destroyed with ErrStoreNotReady.
func One(store Store, opts ...Option) *Stream {
	s := New(store, nil, opts...)
	go s.readyAndStart(store)
	return s
}

func (s *Stream) readyAndStart(store Store) {
	if err := store.Ready(s.ctx); err != nil {
		_ = s.Destroy(fmt.Errorf("%w: %w", ErrStoreNotReady, err)) //nolint:errcheck // close error is reported by Close
		return
	}
	// ErrDestroyed here means the stream was torn down while waiting.
	_ = s.Start(nil, storeID(store)) //nolint:errcheck // see above
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Stream) log() *slog.Logger {
	if s.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.cfg.logger
}

// Start binds a deferred stream to its store and blob.
//
// If the stream was created with a store, that store is kept and the store
// argument is ignored. Start returns ErrDestroyed, without taking ownership
// of store, if the stream was already destroyed, and ErrAlreadyBound if the
// stream is already bound.
func (s *Stream) Start(store Store, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrDestroyed
	}
	if s.bound {
		return ErrAlreadyBound
	}
	if s.store == nil {
		if store == nil {
			return errors.New("blobstream: start without a store")
		}
		s.store = store
	}
	s.id = id
	s.bound = true
	close(s.bindCh)
	return nil
}

// Next returns the next chunk of the range. It returns io.EOF once the
// range is exhausted.
//
// Any other error is terminal: later calls return it again. Cancelling ctx
// also ends the stream. When the stream is destroyed while Next is waiting,
// Next returns an error matching ErrDestroyed.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := s.destroyedErr(); err != nil {
		s.err = err
		return nil, err
	}

	ctx, cancel := s.withDone(ctx)
	defer cancel()

	if !s.opened {
		if err := s.open(ctx); err != nil {
			return nil, s.fail(err)
		}
		s.opened = true
	}
	// A stream destroyed while opening fails even if its range is empty.
	if err := s.destroyedErr(); err != nil {
		return nil, s.fail(err)
	}
	if s.ended {
		return nil, s.finish()
	}

	chunk, err := s.read(ctx)
	if err == nil {
		// A block that lands after destruction is dropped.
		err = s.destroyedErr()
	}
	if err != nil {
		return nil, s.fail(err)
	}
	if s.ended {
		// Release the store as soon as the last chunk is out.
		_ = s.finish() //nolint:errcheck // returns io.EOF
	}
	return chunk, nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.pending) == 0 {
		chunk, err := s.Next(context.Background())
		if err != nil {
			return 0, err
		}
		s.pending = chunk
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// WriteTo implements io.WriterTo. It writes the rest of the range to w.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var total int64
	if len(s.pending) > 0 {
		n, err := w.Write(s.pending)
		total += int64(n)
		s.pending = s.pending[n:]
		if err != nil {
			return total, err
		}
	}
	for {
		chunk, err := s.Next(context.Background())
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// Close releases the stream. It is equivalent to Destroy(nil).
func (s *Stream) Close() error {
	return s.Destroy(nil)
}

// Destroy tears the stream down: the read-ahead window is released, then the
// store is closed. A pending Start or pull resolves with ErrDestroyed,
// wrapping cause when it is non-nil.
//
// Destroy is idempotent. It returns the error from closing the store.
func (s *Stream) Destroy(cause error) error {
	s.mu.Lock()
	if !s.destroyed {
		s.destroyed = true
		s.destroyErr = ErrDestroyed
		if cause != nil {
			s.destroyErr = fmt.Errorf("%w: %w", ErrDestroyed, cause)
		}
		s.cancel()
		if !s.bound {
			close(s.bindCh)
		}
	}
	s.mu.Unlock()

	s.teardownOnce.Do(s.teardown)
	return s.teardownErr
}

func (s *Stream) teardown() {
	s.mu.Lock()
	window := s.window
	store := s.store
	s.mu.Unlock()

	if window != nil {
		window.Destroy()
	}
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		s.log().Warn("closing store failed", "error", err)
		s.teardownErr = err
		return
	}
	s.log().Debug("stream released")
}

func (s *Stream) destroyedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return s.destroyErr
	}
	return nil
}

// withDone derives a context that is also cancelled when the stream is
// destroyed.
func (s *Stream) withDone(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// fail records err as the terminal error and tears the stream down.
func (s *Stream) fail(err error) error {
	if destroyed := s.destroyedErr(); destroyed != nil {
		err = destroyed
	}
	s.err = err
	s.log().Debug("stream failed", "error", err)
	_ = s.Destroy(err) //nolint:errcheck // close error is reported by Close
	return err
}

// finish records the end of the range and releases the stream.
func (s *Stream) finish() error {
	s.err = io.EOF
	s.log().Debug("stream ended", "block", s.index)
	_ = s.Destroy(nil) //nolint:errcheck // close error is reported by Close
	return io.EOF
}

func (s *Stream) awaitBind(ctx context.Context) (Store, ID, error) {
	select {
	case <-s.bindCh:
	case <-ctx.Done():
		return nil, ID{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ID{}, s.destroyErr
	}
	return s.store, s.id, nil
}

func (s *Stream) open(ctx context.Context) error {
	store, id, err := s.awaitBind(ctx)
	if err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if err := store.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreNotReady, err)
	}
	s.src = store

	s.index = id.BlockOffset
	s.blockEnd = id.BlockEnd()
	if n, ok := s.cfg.byteLength(); ok {
		s.remaining = n
	} else {
		s.remaining = id.ByteLength - s.cfg.start
	}
	s.remaining = max(s.remaining, 0)

	if s.cfg.prefetch > 0 && store.CanPrefetch() {
		window := prefetch.New(store, s.cfg.prefetch, id.BlockOffset, s.blockEnd,
			prefetch.WithLogger(s.cfg.logger))
		s.mu.Lock()
		if s.destroyed {
			s.mu.Unlock()
			window.Destroy()
			return s.destroyedErr()
		}
		s.window = window
		s.mu.Unlock()
	}

	s.log().Debug("stream opened",
		"block_offset", id.BlockOffset,
		"block_end", s.blockEnd,
		"start", s.cfg.start,
		"length", s.remaining,
		"prefetch", s.window != nil)

	if s.cfg.start != 0 {
		return s.seek(ctx, id)
	}
	if s.remaining <= 0 || s.index >= s.blockEnd {
		s.ended = true
	}
	return nil
}

func (s *Stream) seek(ctx context.Context, id ID) error {
	target := id.ByteOffset + s.cfg.start
	index, offset, ok, err := s.src.Seek(ctx, target, SeekRange{Start: id.BlockOffset, End: s.blockEnd})
	if err != nil {
		return fmt.Errorf("blobstream: seek to byte %d: %w", target, err)
	}
	if !ok {
		return fmt.Errorf("%w: seek to byte %d", ErrBlockNotAvailable, target)
	}

	s.index = index
	s.relativeOffset = offset
	s.log().Debug("stream seeked", "byte", target, "block", index, "offset", offset)

	if index < id.BlockOffset || index >= s.blockEnd {
		s.remaining = 0
	}
	if s.remaining <= 0 {
		s.ended = true
	}
	return nil
}

func (s *Stream) read(ctx context.Context) ([]byte, error) {
	if s.window != nil {
		s.window.Update(s.index)
	}

	block, err := s.fetch(ctx, s.index)
	if err != nil {
		return nil, err
	}

	if s.relativeOffset > 0 {
		block = block[min(s.relativeOffset, int64(len(block))):]
		s.relativeOffset = 0
	}
	if int64(len(block)) > s.remaining {
		block = block[:s.remaining]
	}

	s.index++
	s.remaining -= int64(len(block))
	if s.remaining == 0 || s.index >= s.blockEnd {
		s.ended = true
	}
	return block, nil
}

func (s *Stream) fetch(ctx context.Context, index int64) ([]byte, error) {
	if s.window != nil {
		if block, ok := s.window.Take(ctx, index); ok {
			return block, nil
		}
	}
	block, ok, err := s.src.Get(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("blobstream: get block %d: %w", index, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: block %d", ErrBlockNotAvailable, index)
	}
	return block, nil
}
