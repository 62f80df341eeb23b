package blockfile

import (
	"encoding/binary"
	"fmt"

	"github.com/RichardKnop/blockfile/internal/page"
)

// WriteMultiPageData writes data at the cursor, moving to continuation pages
// when the current page is full. Missing continuation pages are allocated
// and linked from the page before them.
func (bf *BlockFile) WriteMultiPageData(data []byte, c *page.Cursor) error {
	for len(data) > 0 {
		if c.Offset >= page.Size {
			if c.Next == 0 {
				next, err := bf.newContinuation()
				if err != nil {
					return err
				}
				if err := bf.WriteAt(binary.BigEndian.AppendUint32(nil, uint32(next)), c.Page, page.NextPtrOffset); err != nil {
					return err
				}
				c.Next = next
			}
			if err := bf.enterContinuation(c); err != nil {
				return err
			}
		}

		n := min(len(data), page.Size-c.Offset)
		if err := bf.WriteAt(data[:n], c.Page, c.Offset); err != nil {
			return err
		}
		c.Offset += n
		data = data[n:]
	}
	return nil
}

// ReadMultiPageData fills buf from the cursor, following continuation pages.
func (bf *BlockFile) ReadMultiPageData(buf []byte, c *page.Cursor) error {
	for len(buf) > 0 {
		if c.Offset >= page.Size {
			if c.Next == 0 {
				return fmt.Errorf("%w: not enough pages to read data, %d bytes missing after page %d", ErrCorrupt, len(buf), c.Page)
			}
			if err := bf.enterContinuation(c); err != nil {
				return err
			}
		}

		n := min(len(buf), page.Size-c.Offset)
		if err := bf.ReadAt(buf[:n], c.Page, c.Offset); err != nil {
			return err
		}
		c.Offset += n
		buf = buf[n:]
	}
	return nil
}

// SkipMultiPageBytes moves the cursor n bytes forward. Only continuation
// headers are read.
func (bf *BlockFile) SkipMultiPageBytes(n int, c *page.Cursor) error {
	for n > 0 {
		if c.Offset >= page.Size {
			if c.Next == 0 {
				return fmt.Errorf("%w: not enough pages to skip data, %d bytes missing after page %d", ErrCorrupt, n, c.Page)
			}
			if err := bf.enterContinuation(c); err != nil {
				return err
			}
		}

		step := min(n, page.Size-c.Offset)
		c.Offset += step
		n -= step
	}
	return nil
}

func (bf *BlockFile) newContinuation() (page.Index, error) {
	next, err := bf.AllocPage()
	if err != nil {
		return 0, err
	}
	if err := bf.WriteAt(contHeader(0), next, 0); err != nil {
		return 0, err
	}
	return next, nil
}

func contHeader(next page.Index) []byte {
	buf := make([]byte, page.ContHeaderSize)
	binary.BigEndian.PutUint32(buf[0:], page.ContMagic)
	binary.BigEndian.PutUint32(buf[page.NextPtrOffset:], uint32(next))
	return buf
}

// enterContinuation moves the cursor onto c.Next after validating its header.
func (bf *BlockFile) enterContinuation(c *page.Cursor) error {
	next, err := bf.readContHeader(c.Next)
	if err != nil {
		return err
	}
	c.Page = c.Next
	c.Next = next
	c.Offset = page.ContHeaderSize
	return nil
}

func (bf *BlockFile) readContHeader(pageIdx page.Index) (page.Index, error) {
	buf := make([]byte, page.ContHeaderSize)
	if err := bf.ReadAt(buf, pageIdx, 0); err != nil {
		return 0, err
	}
	if magic := binary.BigEndian.Uint32(buf[0:]); magic != page.ContMagic {
		return 0, fmt.Errorf("%w: bad continuation magic 0x%08x on page %d", ErrCorrupt, magic, pageIdx)
	}
	return page.Index(binary.BigEndian.Uint32(buf[page.NextPtrOffset:])), nil
}

// FreeChain returns a chain of continuation pages to the free list and
// reports how many pages it freed. It stops at the first page that is not a
// continuation page.
func (bf *BlockFile) FreeChain(first page.Index) (int, error) {
	var (
		freed   int
		visited = map[page.Index]struct{}{}
	)
	for pageIdx := first; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			return freed, fmt.Errorf("%w: continuation cycle at page %d", ErrCorrupt, pageIdx)
		}
		visited[pageIdx] = struct{}{}

		next, err := bf.readContHeader(pageIdx)
		if err != nil {
			return freed, err
		}
		bf.FreePage(pageIdx)
		freed += 1
		pageIdx = next
	}
	return freed, nil
}

// ChainLength counts the continuation pages of a chain.
func (bf *BlockFile) ChainLength(first page.Index) (int, error) {
	var (
		count   int
		visited = map[page.Index]struct{}{}
	)
	for pageIdx := first; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			return count, fmt.Errorf("%w: continuation cycle at page %d", ErrCorrupt, pageIdx)
		}
		visited[pageIdx] = struct{}{}

		next, err := bf.readContHeader(pageIdx)
		if err != nil {
			return count, err
		}
		count += 1
		pageIdx = next
	}
	return count, nil
}
