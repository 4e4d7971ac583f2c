package disk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how blocks are encoded on disk.
type Compression uint8

const (
	// CompressionNone stores blocks as-is.
	CompressionNone Compression = iota
	// CompressionZstd stores blocks compressed with zstd.
	CompressionZstd
	// CompressionLZ4 stores blocks compressed with an LZ4 frame.
	CompressionLZ4
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// codec encodes block files. Every file starts with one byte naming its
// compression, so files written under another setting stay readable.
type codec struct {
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

func newCodec(compression Compression, maxBlockSize uint64) (*codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	decoderOpts := []zstd.DOption{zstd.WithDecoderConcurrency(0)}
	if maxBlockSize > 0 {
		decoderOpts = append(decoderOpts, zstd.WithDecoderMaxMemory(maxBlockSize))
	}
	decoder, err := zstd.NewReader(nil, decoderOpts...)
	if err != nil {
		encoder.Close()
		return nil, err
	}
	return &codec{
		compression: compression,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

func (c *codec) encode(block []byte) ([]byte, error) {
	switch c.compression {
	case CompressionNone:
		out := make([]byte, 0, len(block)+1)
		out = append(out, byte(CompressionNone))
		return append(out, block...), nil
	case CompressionZstd:
		return c.encoder.EncodeAll(block, []byte{byte(CompressionZstd)}), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		buf.WriteByte(byte(CompressionLZ4))
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(block); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("blocklog/disk: unknown %s", c.compression)
	}
}

func (c *codec) decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("blocklog/disk: empty block file")
	}
	payload := data[1:]
	switch Compression(data[0]) {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		return c.decoder.DecodeAll(payload, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	default:
		return nil, fmt.Errorf("blocklog/disk: unknown %s", Compression(data[0]))
	}
}

func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
