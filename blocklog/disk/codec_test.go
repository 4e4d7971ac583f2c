package disk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	blocks := map[string][]byte{
		"short":        []byte("hello"),
		"compressible": bytes.Repeat([]byte("abcd"), 4096),
		"single byte":  {0},
	}

	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(compression.String(), func(t *testing.T) {
			t.Parallel()

			c, err := newCodec(compression, 1<<20)
			require.NoError(t, err)
			defer c.close()

			for name, block := range blocks {
				data, err := c.encode(block)
				require.NoError(t, err, name)
				assert.Equal(t, byte(compression), data[0], name)

				got, err := c.decode(data)
				require.NoError(t, err, name)
				assert.Equal(t, block, got, name)
			}
		})
	}
}

func TestCodecCompresses(t *testing.T) {
	t.Parallel()

	block := bytes.Repeat([]byte("abcd"), 4096)
	for _, compression := range []Compression{CompressionZstd, CompressionLZ4} {
		c, err := newCodec(compression, 0)
		require.NoError(t, err)

		data, err := c.encode(block)
		require.NoError(t, err)
		assert.Less(t, len(data), len(block)/4, compression.String())
		c.close()
	}
}

func TestCodecReadsAnyCompression(t *testing.T) {
	t.Parallel()

	writer, err := newCodec(CompressionZstd, 0)
	require.NoError(t, err)
	defer writer.close()
	reader, err := newCodec(CompressionLZ4, 0)
	require.NoError(t, err)
	defer reader.close()

	data, err := writer.encode([]byte("switched settings"))
	require.NoError(t, err)
	got, err := reader.decode(data)
	require.NoError(t, err)
	assert.Equal(t, "switched settings", string(got))
}

func TestCodecDecodeInvalid(t *testing.T) {
	t.Parallel()

	c, err := newCodec(CompressionNone, 0)
	require.NoError(t, err)
	defer c.close()

	_, err = c.decode(nil)
	require.Error(t, err)
	_, err = c.decode([]byte{9, 1, 2})
	require.Error(t, err)
	_, err = c.decode([]byte{byte(CompressionZstd), 1, 2, 3})
	require.Error(t, err)
}
