package disk

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/blobstream"
	"github.com/meigma/blobstream/blocklog"
)

// countingStore counts fetches that reach the wrapped session.
type countingStore struct {
	*blocklog.Session
	gets atomic.Int32
	gate chan struct{}
}

func (s *countingStore) Get(ctx context.Context, index int64) ([]byte, bool, error) {
	s.gets.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.Session.Get(ctx, index)
}

func newSource(t *testing.T, blocks ...[]byte) (*blocklog.Log, *countingStore) {
	t.Helper()
	l := blocklog.New()
	_, err := l.Append(blocks...)
	require.NoError(t, err)
	return l, &countingStore{Session: l.Session()}
}

func strs(blocks ...string) [][]byte {
	out := make([][]byte, len(blocks))
	for i, b := range blocks {
		out[i] = []byte(b)
	}
	return out
}

func TestStoreCachesBlocks(t *testing.T) {
	t.Parallel()

	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(compression.String(), func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			c, err := New(dir, WithCompression(compression))
			require.NoError(t, err)
			defer c.Close()

			_, src := newSource(t, strs("aaaa", "bb")...)
			store, err := c.Wrap(src, "log-1")
			require.NoError(t, err)

			ctx := context.Background()
			for range 3 {
				block, ok, err := store.Get(ctx, 1)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "bb", string(block))
			}
			assert.Equal(t, int32(1), src.gets.Load())
			assert.Positive(t, c.SizeBytes())

			key := c.blockKeyHex("log-1", 1)
			_, err = os.Stat(filepath.Join(dir, key[:defaultShardPrefixLen], key))
			require.NoError(t, err)
		})
	}
}

func TestStoreSharedAcrossSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)
	defer c.Close()

	_, first := newSource(t, strs("first")...)
	_, second := newSource(t, strs("second")...)
	a, err := c.Wrap(first, "a")
	require.NoError(t, err)
	b, err := c.Wrap(second, "b")
	require.NoError(t, err)

	ctx := context.Background()
	got, _, err := a.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	got, _, err = b.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	key := c.blockKeyHex("a", 0)
	_, err = os.Stat(filepath.Join(dir, key))
	require.NoError(t, err)
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, src := newSource(t, strs("persisted")...)

	c, err := New(dir, WithCompression(CompressionZstd))
	require.NoError(t, err)
	store, err := c.Wrap(src, "log")
	require.NoError(t, err)
	_, _, err = store.Get(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, c.SizeBytes(), reopened.SizeBytes())

	store, err = reopened.Wrap(src, "log")
	require.NoError(t, err)
	block, ok, err := store.Get(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(block))
	assert.Equal(t, int32(1), src.gets.Load())
}

func TestStoreAbsentNotCached(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	l, src := newSource(t, strs("a", "b")...)
	l.Clear(1, 2)
	store, err := c.Wrap(src, "log")
	require.NoError(t, err)

	for range 2 {
		_, ok, err := store.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), src.gets.Load())
	assert.Equal(t, int64(0), c.SizeBytes())
}

func TestStoreCorruptFileRefetched(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithCompression(CompressionZstd))
	require.NoError(t, err)
	defer c.Close()

	_, src := newSource(t, strs("payload")...)
	store, err := c.Wrap(src, "log")
	require.NoError(t, err)

	path := c.pathForKey(c.blockKeyHex("log", 0))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte{byte(CompressionZstd), 0xde, 0xad}, 0o600))

	block, ok, err := store.Get(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(block))
	assert.Equal(t, int32(1), src.gets.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Greater(t, len(data), 3, "corrupt file is replaced")
}

func TestStoreMaxBytes(t *testing.T) {
	t.Parallel()

	blocks := make([][]byte, 8)
	for i := range blocks {
		blocks[i] = bytes.Repeat([]byte{byte('a' + i)}, 100)
	}
	const limit = 350

	c, err := New(t.TempDir(), WithMaxBytes(limit))
	require.NoError(t, err)
	defer c.Close()

	_, src := newSource(t, blocks...)
	store, err := c.Wrap(src, "log")
	require.NoError(t, err)

	for i := range int64(len(blocks)) {
		block, ok, err := store.Get(context.Background(), i)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, blocks[i], block)
		assert.LessOrEqual(t, c.SizeBytes(), int64(limit))
	}
	assert.Equal(t, int64(limit), c.MaxBytes())
}

func TestStoreDeduplicatesFetches(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	_, src := newSource(t, strs("shared")...)
	src.gate = make(chan struct{})
	store, err := c.Wrap(src, "log")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			block, ok, err := store.Get(context.Background(), 0)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "shared", string(block))
		}()
	}
	require.Eventually(t, func() bool { return src.gets.Load() == 1 }, 5*time.Second, time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.gets.Load())
}

func TestStoreGetCancelled(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	_, src := newSource(t, strs("slow")...)
	src.gate = make(chan struct{})
	store, err := c.Wrap(src, "log")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = store.Get(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)

	// The abandoned fetch still lands in the cache.
	close(src.gate)
	require.Eventually(t, func() bool { return c.SizeBytes() > 0 }, 5*time.Second, time.Millisecond)
}

func TestStreamThroughCache(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithCompression(CompressionLZ4))
	require.NoError(t, err)
	defer c.Close()

	l, _ := newSource(t, strs("aaaa", "bb", "ccc", "d", "eeeeeeeeee")...)
	var sources []*countingStore
	for range 2 {
		src := &countingStore{Session: l.Session()}
		sources = append(sources, src)
		store, err := c.Wrap(src, "log")
		require.NoError(t, err)

		s := blobstream.One(store, blobstream.WithStart(3), blobstream.WithLength(8))
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "abbcccde", string(got))
	}
	assert.Positive(t, sources[0].gets.Load())
	assert.Equal(t, int32(0), sources[1].gets.Load(), "second read is served from disk")
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
	_, err = New(t.TempDir(), WithCompression(Compression(7)))
	require.Error(t, err)

	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Wrap(nil, "log")
	require.Error(t, err)
	_, src := newSource(t, strs("a")...)
	_, err = c.Wrap(src, "")
	require.Error(t, err)
}
