// Package prefetch keeps a bounded set of block fetches running ahead of a
// sequential reader.
package prefetch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fetcher fetches a single block. ok is false when the block does not exist.
type Fetcher interface {
	Get(ctx context.Context, index int64) (block []byte, ok bool, err error)
}

// Window tracks at most max block requests ahead of the reader's position,
// restricted to the block range [start, end).
//
// Fetch failures are remembered but never reported: Take returns false for
// them and the reader fetches the block itself, so the error surfaces on the
// path that actually needs the block.
type Window struct {
	src    Fetcher
	max    int
	start  int64
	end    int64
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger *slog.Logger

	mu        sync.Mutex
	requests  map[int64]*request
	destroyed bool
}

type request struct {
	done   chan struct{}
	cancel context.CancelFunc
	block  []byte
	ok     bool
	err    error
}

// Option configures a Window.
type Option func(*Window)

// WithLogger sets the logger used for fetch diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Window) {
		w.logger = logger
	}
}

// New creates a window of up to limit blocks over the blocks [start, end)
// of src. A limit of zero or less yields a window that never fetches.
func New(src Fetcher, limit int, start, end int64, opts ...Option) *Window {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Window{
		src:      src,
		max:      limit,
		start:    start,
		end:      end,
		ctx:      ctx,
		cancel:   cancel,
		requests: make(map[int64]*request, max(limit, 0)),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.max > 0 {
		w.group.SetLimit(w.max)
	}
	return w
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Window) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}

// Update moves the window to current, the index the reader needs next.
//
// Blocks in [current, current+max) that are neither in flight nor fetched
// are requested. Requests outside that span are cancelled and dropped.
// Calling Update again with the same or a larger index never re-requests a
// block the window still tracks.
func (w *Window) Update(current int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed || w.max <= 0 {
		return
	}

	first := max(current, w.start)
	last := min(current+int64(w.max), w.end)

	for index, req := range w.requests {
		if index < first || index >= last {
			req.cancel()
			delete(w.requests, index)
		}
	}

	for index := first; index < last; index++ {
		if _, ok := w.requests[index]; ok {
			continue
		}
		if !w.issue(index) {
			// Every fetch slot is busy; the next Update retries.
			break
		}
	}
}

// issue starts a fetch for index. w.mu must be held.
func (w *Window) issue(index int64) bool {
	ctx, cancel := context.WithCancel(w.ctx)
	req := &request{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	started := w.group.TryGo(func() error {
		defer close(req.done)
		defer cancel()

		block, ok, err := w.src.Get(ctx, index)
		if err != nil && ctx.Err() == nil {
			w.log().Debug("prefetch failed", "block", index, "error", err)
		}
		req.block, req.ok, req.err = block, ok, err
		return nil
	})
	if !started {
		cancel()
		return false
	}
	w.requests[index] = req
	return true
}

// Take waits for the window's fetch of index and hands the block over.
//
// It returns false when the window is not tracking index, the fetch failed
// or found nothing, or ctx ends first. The caller then fetches directly.
func (w *Window) Take(ctx context.Context, index int64) ([]byte, bool) {
	w.mu.Lock()
	req, ok := w.requests[index]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return nil, false
	}

	w.mu.Lock()
	if w.requests[index] == req {
		delete(w.requests, index)
	}
	w.mu.Unlock()

	if req.err != nil || !req.ok {
		return nil, false
	}
	return req.block, true
}

// Len returns the number of blocks the window is tracking.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

// Destroy cancels all fetches and drops every result. It does not wait for
// running fetches to return; use Wait for that. Destroy is idempotent.
func (w *Window) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return
	}
	w.destroyed = true
	w.cancel()
	clear(w.requests)
}

// Wait blocks until every fetch goroutine started by the window has returned.
func (w *Window) Wait() {
	_ = w.group.Wait() //nolint:errcheck // fetch goroutines never return errors
}
