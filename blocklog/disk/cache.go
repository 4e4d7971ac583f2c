// Package disk keeps fetched blocks of a block log on the local filesystem.
//
// A Cache is a directory of block files shared by any number of stores.
// Wrap puts it in front of a blobstream.Store, typically a remote one, so
// that blocks are fetched from the source once and then read locally.
package disk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/blobstream"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// Cache stores blocks as individual files in a directory hierarchy with
// optional sharding by key prefix. The cache is safe for concurrent use.
type Cache struct {
	dir            string             // root directory for block files
	shardPrefixLen int                // number of hex chars for subdirectory sharding
	dirPerm        os.FileMode        // permissions for created directories
	maxBytes       int64              // maximum cache size (0 = unlimited)
	maxBlockSize   uint64             // decoder memory limit (0 = unlimited)
	compression    Compression        // encoding for new block files
	bytes          atomic.Int64       // current total size of block files
	fetchGroup     singleflight.Group // deduplicates concurrent fetches for same block
	pruneMu        sync.Mutex         // serializes prune operations
	codec          *codec
	logger         *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBytes sets the maximum size in bytes of the cache directory.
// Values <= 0 disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithCompression sets how new block files are encoded.
// Defaults to CompressionNone.
func WithCompression(compression Compression) Option {
	return func(c *Cache) {
		c.compression = compression
	}
}

// WithMaxBlockSize limits the memory used to decode one compressed block.
// Use 0 to disable the limit.
func WithMaxBlockSize(n uint64) Option {
	return func(c *Cache) {
		c.maxBlockSize = n
	}
}

// WithLogger sets the logger for cache operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a disk-backed block cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("blocklog/disk: cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("blocklog/disk: shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		c.maxBytes = 0
	}
	if c.compression > CompressionLZ4 {
		return nil, errors.New("blocklog/disk: unknown " + c.compression.String())
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	_, size, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)

	codec, err := newCodec(c.compression, c.maxBlockSize)
	if err != nil {
		return nil, err
	}
	c.codec = codec
	return c, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Wrap returns a Store that serves blocks of src from the cache.
//
// sourceID names the log src reads. It is part of every block key, so it
// must be stable across processes and unique across logs.
func (c *Cache) Wrap(src blobstream.Store, sourceID string) (*Store, error) {
	if src == nil {
		return nil, errors.New("blocklog/disk: source is nil")
	}
	if sourceID == "" {
		return nil, errors.New("blocklog/disk: source id is empty")
	}
	return &Store{
		src:      src,
		cache:    c,
		sourceID: sourceID,
	}, nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest block files until the cache is at or below
// targetBytes. It returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	if freed > 0 {
		c.log().Debug("block cache pruned", "freed", freed, "remaining", remaining)
	}
	return freed, nil
}

// Close releases the cache's encoders. Block files stay on disk.
func (c *Cache) Close() error {
	c.codec.close()
	return nil
}

// readBlock returns the cached block at path. A file that cannot be decoded
// is removed and reported as a miss.
func (c *Cache) readBlock(path string) ([]byte, bool, error) {
	// path is safe: constructed from hex-encoded SHA256 hash via pathForKey
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from hash, not user input
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	block, err := c.codec.decode(data)
	if err != nil {
		c.log().Warn("dropping unreadable block file", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr == nil {
			c.bytes.Add(-int64(len(data)))
		}
		return nil, false, nil
	}
	return block, true, nil
}

func (c *Cache) writeBlock(path string, block []byte) error {
	if len(block) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := c.codec.encode(block)
	if err != nil {
		return err
	}
	if ok, err := c.ensureCapacity(int64(len(data))); err != nil {
		return err
	} else if !ok {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	c.bytes.Add(int64(len(data)))
	return nil
}

func (c *Cache) blockKeyHex(sourceID string, index int64) string {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte(sourceID)) //nolint:errcheck // hash writes never fail

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(index)) //nolint:gosec // index is validated >= 0
	_, _ = hasher.Write(buf[:])                       //nolint:errcheck // hash writes never fail

	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *Cache) pathForKey(hexKey string) string {
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, hexKey)
	}
	prefixLen := min(c.shardPrefixLen, len(hexKey))
	return filepath.Join(c.dir, hexKey[:prefixLen], hexKey)
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
