package bigfile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// Compression names a block compression algorithm
type Compression string

const (
	// CompressionLZ4 is the default block compression
	CompressionLZ4 Compression = "lz4"
	// CompressionZstd compresses blocks with zstd
	CompressionZstd Compression = "zstd"
	// CompressionSnappy compresses blocks with snappy
	CompressionSnappy Compression = "snappy"
	// CompressionNone stores blocks uncompressed
	CompressionNone Compression = "none"
)

// Compressor compresses and decompresses whole blocks
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Compression
}

// NewCompressor creates the Compressor for an algorithm. An empty name selects lz4.
func NewCompressor(c Compression) (Compressor, error) {
	switch c {
	case "", CompressionLZ4:
		return lz4Compressor{}, nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("unable to initialize zstd encoder: %w", err)
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize zstd decoder: %w", err)
		}
		return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
	case CompressionSnappy:
		return snappyCompressor{}, nil
	case CompressionNone:
		return noCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

type lz4Compressor struct{}

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	out := new(bytes.Buffer)
	w := lz4.NewWriter(out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out := new(bytes.Buffer)
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (lz4Compressor) Type() Compression { return CompressionLZ4 }

type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return z.decoder.DecodeAll(data, nil)
}

func (z *zstdCompressor) Type() Compression { return CompressionZstd }

type snappyCompressor struct{}

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (snappyCompressor) Type() Compression { return CompressionSnappy }

type noCompressor struct{}

func (noCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noCompressor) Type() Compression                      { return CompressionNone }
