package page

import (
	"fmt"
)

const (
	Size = 1024 // 1 kilobyte

	// MaxPages is the largest page number a 32 bit page pointer can address.
	MaxPages = 1<<32 - 1

	// ContMagic marks a continuation page ("CONT").
	ContMagic uint32 = 0x434f4e54
	// NextPtrOffset is where every page of a chained stream keeps its
	// continuation pointer, the first page included.
	NextPtrOffset = 4
	// ContHeaderSize is magic + next pointer.
	ContHeaderSize = 8
	// ContPayloadSize is the number of payload bytes a continuation page carries.
	ContPayloadSize = Size - ContHeaderSize
)

// Index is a page number. Pages are numbered from 1, 0 means "no page".
type Index uint32

const (
	// Superblock is the header page, never allocated or freed.
	Superblock Index = 1
	// MetaIndex is the root of the index catalog, never freed.
	MetaIndex Index = 2
)

// Offset returns the byte offset of the first byte of the page.
func Offset(idx Index) int64 {
	return (int64(idx) - 1) * Size
}

// Count returns the number of whole pages in a file of the given length.
func Count(fileLen int64) uint32 {
	return uint32(fileLen / Size)
}

// Cursor is a position inside a byte stream that may span a first page
// plus any number of continuation pages.
type Cursor struct {
	Page   Index // current page
	Offset int   // offset within the current page
	Next   Index // continuation pointer of the current page, 0 if none yet
}

func (c Cursor) String() string {
	return fmt.Sprintf("page=%d offset=%d next=%d", c.Page, c.Offset, c.Next)
}
