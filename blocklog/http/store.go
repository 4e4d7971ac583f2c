// Package http provides a blobstream.Store that reads a block log over HTTP
// range requests.
//
// The remote serves the concatenated bytes of the log. A blocklog.Table,
// usually fetched alongside it, gives the block boundaries and digests.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/meigma/blobstream"
	"github.com/meigma/blobstream/blocklog"
)

// Interface compliance.
var _ blobstream.Store = (*Store)(nil)

// ErrRangeUnsupported is returned when the remote ignores range requests.
var ErrRangeUnsupported = errors.New("blocklog/http: range requests not supported")

// Store reads blocks of a remote log with HTTP range requests.
// Every fetched block is checked against its digest.
type Store struct {
	url                   string
	table                 *blocklog.Table
	client                *nethttp.Client
	headers               nethttp.Header
	useConditionalHeaders bool
	logger                *slog.Logger

	readyMu sync.Mutex // serializes probes

	mu           sync.Mutex
	ready        bool
	closed       bool
	etag         string
	lastModified string
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Store) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Store) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithConditionalHeaders enables conditional range reads using ETag or Last-Modified.
// This is disabled by default because some servers reject conditional range requests.
func WithConditionalHeaders() Option {
	return func(s *Store) {
		s.useConditionalHeaders = true
	}
}

// WithLogger sets the logger for remote reads.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store for the log at url described by table.
// No request is made until Ready.
func NewStore(url string, table *blocklog.Table, opts ...Option) *Store {
	s := &Store{
		url:    url,
		table:  table,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Ready probes the remote once. It fails when the remote does not support
// range requests or holds fewer bytes than the table describes. The remote
// may hold more: the log is append-only.
func (s *Store) Ready(ctx context.Context) error {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()

	s.mu.Lock()
	closed, ready := s.closed, s.ready
	s.mu.Unlock()
	if closed {
		return blocklog.ErrClosed
	}
	if ready {
		return nil
	}

	want := s.table.ByteLen()
	var size int64
	var etag, lastModified string
	if want > 0 {
		var err error
		size, etag, lastModified, err = s.fetchMetadata(ctx)
		if err != nil {
			return err
		}
		if size < want {
			return fmt.Errorf("blocklog/http: remote holds %d bytes, table describes %d", size, want)
		}
	}

	s.mu.Lock()
	s.etag = etag
	s.lastModified = lastModified
	s.ready = true
	s.mu.Unlock()
	s.log().Debug("remote log ready", "url", s.url, "size", size, "blocks", s.table.Len())
	return nil
}

// Len returns the number of blocks in the table.
func (s *Store) Len() int64 {
	return s.table.Len()
}

// ByteLen returns the number of bytes in the table.
func (s *Store) ByteLen() int64 {
	return s.table.ByteLen()
}

// Get fetches block index with a range request. A block the table does not
// know, or the remote does not have, is reported as absent.
func (s *Store) Get(ctx context.Context, index int64) ([]byte, bool, error) {
	if s.isClosed() {
		return nil, false, blocklog.ErrClosed
	}
	if !s.table.Has(index) {
		return nil, false, nil
	}
	length := s.table.Length(index)
	if length == 0 {
		return []byte{}, true, nil
	}

	off := s.table.Offset(index)
	data, ok, err := s.readRange(ctx, off, length)
	if err != nil || !ok {
		return nil, ok, err
	}

	expected := s.table.Digest(index)
	if got := expected.Algorithm().FromBytes(data); got != expected {
		return nil, false, fmt.Errorf("%w: block %d: got %s, want %s", blocklog.ErrDigestMismatch, index, got, expected)
	}
	return data, true, nil
}

// Seek resolves byteOffset within r using the table.
func (s *Store) Seek(ctx context.Context, byteOffset int64, r blobstream.SeekRange) (int64, int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, false, err
	}
	index, offset, ok := s.table.Locate(byteOffset, r.Start, r.End)
	return index, offset, ok, nil
}

// CanPrefetch reports true: blocks are independent range requests.
func (s *Store) CanPrefetch() bool {
	return true
}

// Close marks the store closed. Later fetches fail with blocklog.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readRange fetches exactly length bytes at off. ok is false when the
// remote does not have them.
func (s *Store) readRange(ctx context.Context, off, length int64) ([]byte, bool, error) {
	end := off + length - 1
	resp, err := s.rangeRequest(ctx, off, end, true)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == nethttp.StatusPreconditionFailed && s.hasConditionalHeaders() {
		resp.Body.Close()
		resp, err = s.rangeRequest(ctx, off, end, false)
		if err != nil {
			return nil, false, err
		}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		// ok
	case nethttp.StatusRequestedRangeNotSatisfiable, nethttp.StatusNotFound:
		return nil, false, nil
	case nethttp.StatusOK:
		return nil, false, ErrRangeUnsupported
	default:
		return nil, false, fmt.Errorf("blocklog/http: range request failed: %s", resp.Status)
	}

	data := make([]byte, length)
	n, err := io.ReadFull(resp.Body, data)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		s.log().Debug("short range response", "offset", off, "want", length, "got", n)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// fetchMetadata retrieves content size and cache validators from the remote server.
// It first attempts a HEAD request, then verifies with a range probe.
func (s *Store) fetchMetadata(ctx context.Context) (size int64, etag, lastModified string, err error) {
	size = -1

	if resp, headErr := s.doHead(ctx); headErr == nil {
		if resp.StatusCode == nethttp.StatusOK {
			size = resp.ContentLength
			etag = resp.Header.Get("ETag")
			lastModified = resp.Header.Get("Last-Modified")
		}
		resp.Body.Close()
	}

	rangeSize, rangeETag, rangeLastModified, err := s.rangeProbe(ctx)
	if err != nil {
		return 0, "", "", err
	}
	if size > 0 && size != rangeSize {
		return 0, "", "", fmt.Errorf("blocklog/http: content size mismatch: head=%d range=%d", size, rangeSize)
	}
	if etag == "" {
		etag = rangeETag
	}
	if lastModified == "" {
		lastModified = rangeLastModified
	}
	return rangeSize, etag, lastModified, nil
}

// rangeProbe verifies range request support and extracts content size from Content-Range.
func (s *Store) rangeProbe(ctx context.Context) (size int64, etag, lastModified string, err error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet, false)
	if err != nil {
		return 0, "", "", err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != nethttp.StatusPartialContent {
		if resp.StatusCode == nethttp.StatusOK {
			return 0, "", "", ErrRangeUnsupported
		}
		return 0, "", "", fmt.Errorf("blocklog/http: range probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, "", "", errors.New("blocklog/http: range probe missing Content-Range")
	}
	size, err = parseContentRange(crange)
	if err != nil {
		return 0, "", "", err
	}

	return size, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

// doHead performs a HEAD request to retrieve metadata without body content.
func (s *Store) doHead(ctx context.Context) (*nethttp.Response, error) {
	req, err := s.newRequest(ctx, nethttp.MethodHead, false)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

// newRequest creates an HTTP request with configured headers and optional conditional headers.
func (s *Store) newRequest(ctx context.Context, method string, withConditions bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet && withConditions && s.useConditionalHeaders {
		s.mu.Lock()
		etag, lastModified := s.etag, s.lastModified
		s.mu.Unlock()
		if etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", etag)
		}
		if lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", lastModified)
		}
	}
	return req, nil
}

// rangeRequest performs a GET request for the specified byte range.
func (s *Store) rangeRequest(ctx context.Context, off, end int64, withConditions bool) (*nethttp.Response, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet, withConditions)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	return s.client.Do(req)
}

// hasConditionalHeaders reports whether conditional headers are enabled and available.
func (s *Store) hasConditionalHeaders() bool {
	if !s.useConditionalHeaders {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.etag != "" || s.lastModified != ""
}

// parseContentRange extracts the total size from a Content-Range header value.
// It expects the format "bytes start-end/size" and returns the size portion.
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
