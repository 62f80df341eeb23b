package blockfile

import (
	"encoding/binary"
	"fmt"

	"github.com/RichardKnop/blockfile/internal/page"
)

const (
	magicBase    uint64 = 0x3141de4932500000
	versionMajor        = 0x01
	versionMinor        = 0x02
	minMajor            = 0x01
	minMinor            = 0x01

	magic = magicBase | versionMajor<<8 | versionMinor

	SuperblockSize = 28
	mountedOffset  = 20

	DefaultSpanSize = 16
	MaxSpanSize     = 1<<16 - 1
)

// Superblock lives at offset 0 of page 1.
//
//	magic u64 | file length u64 | free list start u32 | mounted u16 | span size u16 | page size u32
//
// Version 1.1 files end after the span size, their page size reads as 0.
type Superblock struct {
	Magic         uint64
	FileLen       uint64
	FreeListStart page.Index
	Mounted       uint16
	SpanSize      uint16
	PageSize      uint32
}

func newSuperblock(spanSize int) Superblock {
	return Superblock{
		Magic:    magic,
		FileLen:  2 * page.Size,
		SpanSize: uint16(spanSize),
		PageSize: page.Size,
	}
}

func (s *Superblock) Marshal(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:], s.Magic)
	binary.BigEndian.PutUint64(buf[8:], s.FileLen)
	binary.BigEndian.PutUint32(buf[16:], uint32(s.FreeListStart))
	binary.BigEndian.PutUint16(buf[20:], s.Mounted)
	binary.BigEndian.PutUint16(buf[22:], s.SpanSize)
	binary.BigEndian.PutUint32(buf[24:], s.PageSize)
}

func (s *Superblock) Unmarshal(buf []byte) {
	s.Magic = binary.BigEndian.Uint64(buf[0:])
	s.FileLen = binary.BigEndian.Uint64(buf[8:])
	s.FreeListStart = page.Index(binary.BigEndian.Uint32(buf[16:]))
	s.Mounted = binary.BigEndian.Uint16(buf[20:])
	s.SpanSize = binary.BigEndian.Uint16(buf[22:])
	s.PageSize = binary.BigEndian.Uint32(buf[24:])
}

func (s *Superblock) Version() (major, minor int) {
	return int(s.Magic >> 8 & 0xff), int(s.Magic & 0xff)
}

// Validate checks the magic, the version and the page size. Newer minor or
// major versions with the same base are accepted.
func (s *Superblock) Validate() error {
	if s.Magic != magic {
		if s.Magic&^0xffff != magicBase {
			return fmt.Errorf("%w: bad magic number 0x%016x", ErrBadMagic, s.Magic)
		}
		major, minor := s.Version()
		if major < minMajor || (major == minMajor && minor < minMinor) {
			return fmt.Errorf("%w: expected %d.%d but got %d.%d", ErrVersion, versionMajor, versionMinor, major, minor)
		}
	}
	if s.PageSize != 0 && s.PageSize != page.Size {
		return fmt.Errorf("%w: unsupported page size %d", ErrBadMagic, s.PageSize)
	}
	if s.SpanSize == 0 {
		return fmt.Errorf("%w: span size is 0", ErrBadMagic)
	}
	return nil
}
