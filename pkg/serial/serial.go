// Package serial holds the codecs used to store keys and values in a block
// file index.
//
// Keys are ordered by the bytewise order of their encoding, so every codec
// used for keys must be order preserving: a < b must imply
// bytes.Compare(Marshal(a), Marshal(b)) < 0. String, Uint32, Int64 and Bytes
// all satisfy this. The compressing wrappers do not and are meant for values.
package serial

import (
	"encoding/binary"
	"fmt"
)

var ErrInvalidLength = fmt.Errorf("invalid encoded length")

type Serializer[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

var (
	String Serializer[string] = stringSerializer{}
	Uint32 Serializer[uint32] = uint32Serializer{}
	Int64  Serializer[int64]  = int64Serializer{}
	Bytes  Serializer[[]byte] = bytesSerializer{}
)

type stringSerializer struct{}

func (stringSerializer) Marshal(s string) ([]byte, error) {
	return []byte(s), nil
}

func (stringSerializer) Unmarshal(buf []byte) (string, error) {
	return string(buf), nil
}

type uint32Serializer struct{}

func (uint32Serializer) Marshal(n uint32) ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, n), nil
}

func (uint32Serializer) Unmarshal(buf []byte) (uint32, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("%w: uint32 needs 4 bytes, got %d", ErrInvalidLength, len(buf))
	}
	return binary.BigEndian.Uint32(buf), nil
}

// int64Serializer flips the sign bit so negative numbers sort first.
type int64Serializer struct{}

func (int64Serializer) Marshal(n int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(n)^(1<<63)), nil
}

func (int64Serializer) Unmarshal(buf []byte) (int64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("%w: int64 needs 8 bytes, got %d", ErrInvalidLength, len(buf))
	}
	return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63)), nil
}

type bytesSerializer struct{}

func (bytesSerializer) Marshal(b []byte) ([]byte, error) {
	return b, nil
}

func (bytesSerializer) Unmarshal(buf []byte) ([]byte, error) {
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}
