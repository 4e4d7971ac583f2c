package blocklog_test

import (
	"context"
	_ "crypto/sha512" // registers SHA-512 for go-digest
	"errors"
	"io"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/blobstream"
	"github.com/meigma/blobstream/blocklog"
)

func appendStrings(t *testing.T, l *blocklog.Log, blocks ...string) int64 {
	t.Helper()
	data := make([][]byte, len(blocks))
	for i, b := range blocks {
		data[i] = []byte(b)
	}
	first, err := l.Append(data...)
	require.NoError(t, err)
	return first
}

func TestLogAppendGet(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	first := appendStrings(t, l, "aaaa", "bb")
	assert.Equal(t, int64(0), first)
	first = appendStrings(t, l, "ccc")
	assert.Equal(t, int64(2), first)

	assert.Equal(t, int64(3), l.Len())
	assert.Equal(t, int64(9), l.ByteLen())

	block, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, "bb", string(block))

	d, ok := l.Digest(2)
	require.True(t, ok)
	assert.Equal(t, digest.FromString("ccc"), d)

	_, ok = l.Get(3)
	assert.False(t, ok)
}

func TestLogAppendCopies(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	src := []byte("abc")
	_, err := l.Append(src)
	require.NoError(t, err)
	src[0] = 'x'

	block, ok := l.Get(0)
	require.True(t, ok)
	assert.Equal(t, "abc", string(block))
}

func TestLogDigestAlgorithm(t *testing.T) {
	t.Parallel()

	l := blocklog.New(blocklog.WithDigestAlgorithm(digest.SHA512))
	appendStrings(t, l, "abc")

	d, ok := l.Digest(0)
	require.True(t, ok)
	assert.Equal(t, digest.SHA512, d.Algorithm())
	assert.Equal(t, digest.SHA512.FromString("abc"), d)
}

func TestLogClear(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	appendStrings(t, l, "aaaa", "bb", "ccc")
	l.Clear(1, 2)

	_, ok := l.Get(1)
	assert.False(t, ok)
	_, ok = l.Get(2)
	assert.True(t, ok)

	// Cleared blocks still take part in seeks.
	index, offset, ok := l.Locate(5, 0, 3)
	require.True(t, ok)
	assert.Equal(t, int64(1), index)
	assert.Equal(t, int64(1), offset)

	buf := make([]byte, 9)
	n, err := l.ReadAt(buf, 0)
	require.ErrorIs(t, err, blocklog.ErrPruned)
	assert.Equal(t, 4, n)
}

func TestLogReadAt(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	appendStrings(t, l, "aaaa", "bb", "", "ccc")

	buf := make([]byte, 4)
	n, err := l.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "abbc", string(buf[:n]))

	n, err = l.ReadAt(buf, 7)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "cc", string(buf[:n]))

	_, err = l.ReadAt(buf, 9)
	require.ErrorIs(t, err, io.EOF)

	_, err = l.ReadAt(buf, -1)
	require.Error(t, err)
}

func TestLogClose(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	appendStrings(t, l, "a")
	session := l.Session()
	require.NoError(t, session.Ready(context.Background()))

	require.NoError(t, l.Close())
	_, err := l.Append([]byte("b"))
	require.ErrorIs(t, err, blocklog.ErrClosed)
	require.ErrorIs(t, l.Session().Ready(context.Background()), blocklog.ErrClosed)

	// A session that is already reading keeps reading.
	block, ok, err := session.Get(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(block))
}

func TestSession(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	appendStrings(t, l, "aaaa", "bb")
	ctx := context.Background()

	s := l.Session()
	assert.True(t, s.CanPrefetch())
	assert.False(t, l.Session(blocklog.WithoutPrefetch()).CanPrefetch())

	index, offset, ok, err := s.Seek(ctx, 5, blobstream.SeekRange{Start: 0, End: 2})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), index)
	assert.Equal(t, int64(1), offset)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Ready(ctx), blocklog.ErrClosed)
	_, _, err = s.Get(ctx, 0)
	require.ErrorIs(t, err, blocklog.ErrClosed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = l.Session().Get(cancelled, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func readStream(t *testing.T, s *blobstream.Stream) (string, error) {
	t.Helper()
	var out []byte
	for {
		chunk, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk...)
	}
}

func TestStreamOverSession(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	appendStrings(t, l, "a", "b", "c", "d", "e")

	tests := []struct {
		name    string
		session *blocklog.Session
		id      blobstream.ID
		opts    []blobstream.Option
		want    string
	}{
		{name: "whole", session: l.Session(), id: blobstream.ID{BlockLength: 5, ByteLength: 5}, want: "abcde"},
		{name: "sub-range", session: l.Session(), id: blobstream.ID{BlockOffset: 2, BlockLength: 3, ByteOffset: 2, ByteLength: 3}, want: "cde"},
		{
			name:    "reduced view",
			session: l.Session(blocklog.WithoutPrefetch()),
			id:      blobstream.ID{BlockLength: 5, ByteLength: 5},
			opts:    []blobstream.Option{blobstream.WithStart(3)},
			want:    "de",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := blobstream.New(tt.session, &tt.id, tt.opts...)
			got, err := readStream(t, s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// End of data closes the session.
			require.ErrorIs(t, tt.session.Ready(context.Background()), blocklog.ErrClosed)
		})
	}
}

func TestStreamOverPrunedLog(t *testing.T) {
	t.Parallel()

	l := blocklog.New()
	appendStrings(t, l, "a", "b", "c")
	l.Clear(2, 3)

	got, err := readStream(t, blobstream.One(l.Session()))
	require.ErrorIs(t, err, blobstream.ErrBlockNotAvailable)
	assert.Equal(t, "ab", got)
}
