package blockfile

import (
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/RichardKnop/blockfile/internal/page"
)

const (
	freeListMagic      uint32 = 0x464c4953 // "FLIS"
	freeListHeaderSize        = 20
	// FreeListCapacity is the number of free page numbers one block holds.
	FreeListCapacity = (page.Size - freeListHeaderSize) / 4
)

// freeListBlock is one page of the free list chain.
//
//	magic u32 | next u32 | count u32 | checksum u64 | count x page u32
//
// The xxhash64 checksum covers the first 12 bytes and the used entries.
type freeListBlock struct {
	page  page.Index
	next  page.Index
	pages []page.Index
}

func (b *freeListBlock) isEmpty() bool {
	return len(b.pages) == 0
}

func (b *freeListBlock) isFull() bool {
	return len(b.pages) >= FreeListCapacity
}

func (b *freeListBlock) String() string {
	return fmt.Sprintf("free list block page=%d next=%d pages=%d", b.page, b.next, len(b.pages))
}

func (b *freeListBlock) Marshal(buf []byte) {
	clear(buf)
	binary.BigEndian.PutUint32(buf[0:], freeListMagic)
	binary.BigEndian.PutUint32(buf[4:], uint32(b.next))
	binary.BigEndian.PutUint32(buf[8:], uint32(len(b.pages)))
	i := freeListHeaderSize
	for _, p := range b.pages {
		binary.BigEndian.PutUint32(buf[i:], uint32(p))
		i += 4
	}
	binary.BigEndian.PutUint64(buf[12:], freeListChecksum(buf, len(b.pages)))
}

func (b *freeListBlock) Unmarshal(buf []byte) error {
	if magic := binary.BigEndian.Uint32(buf[0:]); magic != freeListMagic {
		return fmt.Errorf("%w: bad free list magic 0x%08x on page %d", ErrCorrupt, magic, b.page)
	}
	count := int(binary.BigEndian.Uint32(buf[8:]))
	if count > FreeListCapacity {
		return fmt.Errorf("%w: free list block %d holds %d pages", ErrCorrupt, b.page, count)
	}
	if sum := binary.BigEndian.Uint64(buf[12:]); sum != freeListChecksum(buf, count) {
		return fmt.Errorf("%w: free list block %d checksum mismatch", ErrCorrupt, b.page)
	}

	b.next = page.Index(binary.BigEndian.Uint32(buf[4:]))
	b.pages = make([]page.Index, 0, count)
	i := freeListHeaderSize
	for range count {
		b.pages = append(b.pages, page.Index(binary.BigEndian.Uint32(buf[i:])))
		i += 4
	}
	return nil
}

func freeListChecksum(buf []byte, count int) uint64 {
	h := xxhash.New64()
	h.Write(buf[0:12])
	h.Write(buf[freeListHeaderSize : freeListHeaderSize+4*count])
	return h.Sum64()
}

func (bf *BlockFile) readFreeListBlock(pageIdx page.Index) (*freeListBlock, error) {
	buf := make([]byte, page.Size)
	if err := bf.ReadAt(buf, pageIdx, 0); err != nil {
		return nil, err
	}
	b := &freeListBlock{page: pageIdx}
	if err := b.Unmarshal(buf); err != nil {
		return nil, err
	}
	return b, nil
}

func (bf *BlockFile) writeFreeListBlock(b *freeListBlock) error {
	buf := make([]byte, page.Size)
	b.Marshal(buf)
	return bf.WriteAt(buf, b.page, 0)
}

// headBlock returns the cached head of the free list, reading it if needed.
func (bf *BlockFile) headBlock() (*freeListBlock, error) {
	if bf.flb != nil && bf.flb.page == bf.sb.FreeListStart {
		return bf.flb, nil
	}
	b, err := bf.readFreeListBlock(bf.sb.FreeListStart)
	if err != nil {
		bf.flb = nil
		return nil, err
	}
	bf.flb = b
	return b, nil
}
