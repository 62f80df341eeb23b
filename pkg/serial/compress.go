package serial

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

type Compressor func([]byte) ([]byte, error)
type Decompressor func([]byte) ([]byte, error)

var (
	snappyCompress Compressor = func(in []byte) ([]byte, error) {
		return snappy.Encode(nil, in), nil
	}
	snappyDecompress Decompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	lz4Compress Compressor = func(in []byte) ([]byte, error) {
		buf := new(bytes.Buffer)
		writer := lz4.NewWriter(buf)
		if _, err := writer.Write(in); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	lz4Decompress Decompressor = func(in []byte) ([]byte, error) {
		return io.ReadAll(lz4.NewReader(bytes.NewReader(in)))
	}
)

var (
	s2Compress Compressor = func(in []byte) ([]byte, error) {
		return s2.Encode(nil, in), nil
	}
	s2Decompress Decompressor = func(in []byte) ([]byte, error) {
		return s2.Decode(nil, in)
	}
)

// Snappy compresses the output of inner with snappy block compression.
func Snappy[T any](inner Serializer[T]) Serializer[T] {
	return &compressed[T]{name: "snappy", inner: inner, compress: snappyCompress, decompress: snappyDecompress}
}

// LZ4 compresses the output of inner with the lz4 frame format.
func LZ4[T any](inner Serializer[T]) Serializer[T] {
	return &compressed[T]{name: "lz4", inner: inner, compress: lz4Compress, decompress: lz4Decompress}
}

// S2 compresses the output of inner with s2 block compression.
func S2[T any](inner Serializer[T]) Serializer[T] {
	return &compressed[T]{name: "s2", inner: inner, compress: s2Compress, decompress: s2Decompress}
}

type compressed[T any] struct {
	name       string
	inner      Serializer[T]
	compress   Compressor
	decompress Decompressor
}

func (c *compressed[T]) Marshal(v T) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	out, err := c.compress(raw)
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.name, err)
	}
	return out, nil
}

func (c *compressed[T]) Unmarshal(buf []byte) (T, error) {
	raw, err := c.decompress(buf)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s decompress: %w", c.name, err)
	}
	return c.inner.Unmarshal(raw)
}
