package blobstream

import "log/slog"

// DefaultPrefetch is the read-ahead budget, in blocks, used when
// WithPrefetch is not set.
const DefaultPrefetch = 64

// Option configures a Stream.
type Option func(*config)

type config struct {
	prefetch  int
	start     int64
	end       int64
	endSet    bool
	length    int64
	lengthSet bool
	logger    *slog.Logger
}

func newConfig(opts []Option) config {
	cfg := config{prefetch: DefaultPrefetch}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	return cfg
}

// byteLength resolves the number of bytes requested. ok is false when the
// request runs to the end of the blob.
func (c *config) byteLength() (n int64, ok bool) {
	switch {
	case c.lengthSet:
		return c.length, true
	case c.endSet:
		return c.end - c.start + 1, true
	default:
		return 0, false
	}
}

// WithPrefetch sets how many blocks may be fetched ahead of the reader.
// Values <= 0 disable read-ahead.
func WithPrefetch(blocks int) Option {
	return func(c *config) {
		c.prefetch = blocks
	}
}

// WithStart sets the offset, within the blob, of the first byte to stream.
// Negative values are treated as 0.
func WithStart(offset int64) Option {
	return func(c *config) {
		c.start = max(offset, 0)
	}
}

// WithEnd sets the offset, within the blob, of the last byte to stream.
// The end is inclusive and is ignored when WithLength is also given.
func WithEnd(offset int64) Option {
	return func(c *config) {
		c.end = offset
		c.endSet = true
	}
}

// WithLength sets the number of bytes to stream. Requests past the end of
// the blob yield the available bytes. Negative values mean "to the end of
// the blob".
func WithLength(n int64) Option {
	return func(c *config) {
		c.length = n
		c.lengthSet = n >= 0
	}
}

// WithLogger sets the logger for stream lifecycle events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
