// Package serve exposes blobs of a block log over HTTP.
//
// Each request opens its own store handle, so a slow client never holds
// resources belonging to another. Bodies are produced by a blobstream.Stream
// and honor a single Range header.
package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/blobstream"
)

// Opener returns a fresh store handle for one request. The handler owns the
// returned store and closes it when the request is done.
type Opener func(ctx context.Context) (blobstream.Store, error)

// Handler serves GET and HEAD requests for /blob.
//
// The blob is selected with the query parameters blockOffset, blockLength,
// byteOffset and byteLength. When all four are absent the whole store is
// served.
type Handler struct {
	open     Opener
	prefetch int
	logger   *slog.Logger
	metrics  *Metrics
	router   chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for request handling.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRegisterer registers the handler's metrics on reg.
// If not set, no metrics are recorded.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Handler) {
		h.metrics = NewMetrics(reg)
	}
}

// WithPrefetch sets the read-ahead window of each response stream.
// Defaults to blobstream.DefaultPrefetch.
func WithPrefetch(n int) Option {
	return func(h *Handler) {
		h.prefetch = n
	}
}

// New creates a handler that opens a store per request with open.
func New(open Opener, opts ...Option) *Handler {
	h := &Handler{
		open:     open,
		prefetch: blobstream.DefaultPrefetch,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Get("/blob", h.serveBlob)
	r.Head("/blob", h.serveBlob)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// log returns the logger, falling back to a discard logger if nil.
func (h *Handler) log() *slog.Logger {
	if h.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.logger
}

// instrument records the response status of every request.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.observe(r.Method, status)
		h.metrics.served(int64(ww.BytesWritten()))
		h.log().Debug("blob request",
			"method", r.Method,
			"query", r.URL.RawQuery,
			"status", status,
			"bytes", ww.BytesWritten())
	})
}

func (h *Handler) serveBlob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, whole, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	store, err := h.open(ctx)
	if err != nil {
		h.log().Warn("opening store failed", "error", err)
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			_ = store.Close() //nolint:errcheck // best-effort cleanup
		}
	}()

	if err := store.Ready(ctx); err != nil {
		h.log().Warn("store not ready", "error", err)
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	if whole {
		id = blobstream.ID{
			BlockLength: store.Len(),
			ByteLength:  store.ByteLen(),
		}
	}
	if err := id.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	size := id.ByteLength
	rng := byteRange{start: 0, length: size}
	status := http.StatusOK
	if header := r.Header.Get("Range"); header != "" {
		parsed, ok, err := parseRange(header, size)
		switch {
		case errors.Is(err, errUnsatisfiable):
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		case ok:
			rng = parsed
			status = http.StatusPartialContent
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.start+rng.length-1, size))
		}
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(rng.length, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	handedOff = true
	stream := blobstream.New(store, &id,
		blobstream.WithStart(rng.start),
		blobstream.WithLength(rng.length),
		blobstream.WithPrefetch(h.prefetch),
		blobstream.WithLogger(h.logger))
	defer stream.Close()

	// Pull the first chunk before committing to a status, so a store that
	// cannot serve the blob still gets an error response.
	chunk, err := stream.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, err)
		return
	}
	w.WriteHeader(status)
	for err == nil {
		if _, werr := w.Write(chunk); werr != nil {
			h.log().Debug("client write failed", "error", werr)
			return
		}
		chunk, err = stream.Next(ctx)
	}
	if !errors.Is(err, io.EOF) {
		// Headers are out; abort so the client sees a truncated body.
		h.log().Warn("blob stream failed mid-response", "error", err)
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, blobstream.ErrBlockNotAvailable):
		status = http.StatusNotFound
	case errors.Is(err, blobstream.ErrStoreNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return
	}
	h.log().Warn("serving blob failed", "status", status, "error", err)
	w.Header().Del("Content-Range")
	w.Header().Del("Content-Length")
	http.Error(w, http.StatusText(status), status)
}

// parseID reads the blob layout from the query. whole reports that no
// layout was given.
func parseID(r *http.Request) (id blobstream.ID, whole bool, err error) {
	q := r.URL.Query()
	names := [...]string{"blockOffset", "blockLength", "byteOffset", "byteLength"}
	fields := [...]*int64{&id.BlockOffset, &id.BlockLength, &id.ByteOffset, &id.ByteLength}

	present := 0
	for i, name := range names {
		v := q.Get(name)
		if v == "" {
			continue
		}
		present++
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return blobstream.ID{}, false, fmt.Errorf("serve: invalid %s: %w", name, err)
		}
		*fields[i] = n
	}
	switch present {
	case 0:
		return blobstream.ID{}, true, nil
	case len(names):
		return id, false, nil
	default:
		return blobstream.ID{}, false, errors.New("serve: blockOffset, blockLength, byteOffset and byteLength must be given together")
	}
}
