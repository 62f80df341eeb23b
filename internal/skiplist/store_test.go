package skiplist

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/blockfile/internal/page"
)

// memStore keeps pages in memory and chains continuation pages the same way
// a block file does.
type memStore struct {
	pages map[page.Index][]byte
	total page.Index
	free  []page.Index
}

func newMemStore() *memStore {
	return &memStore{
		pages: make(map[page.Index][]byte),
		total: page.MetaIndex,
	}
}

func (s *memStore) page(pageIdx page.Index, offset, n int) ([]byte, error) {
	if pageIdx < page.MetaIndex || pageIdx > s.total {
		return nil, fmt.Errorf("%w: page %d out of range", ErrCorrupt, pageIdx)
	}
	if offset < 0 || offset+n > page.Size {
		return nil, fmt.Errorf("access of %d bytes at offset %d crosses page %d", n, offset, pageIdx)
	}
	buf, ok := s.pages[pageIdx]
	if !ok {
		buf = make([]byte, page.Size)
		s.pages[pageIdx] = buf
	}
	return buf[offset : offset+n], nil
}

func (s *memStore) ReadAt(buf []byte, pageIdx page.Index, offset int) error {
	src, err := s.page(pageIdx, offset, len(buf))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

func (s *memStore) WriteAt(buf []byte, pageIdx page.Index, offset int) error {
	dst, err := s.page(pageIdx, offset, len(buf))
	if err != nil {
		return err
	}
	copy(dst, buf)
	return nil
}

func (s *memStore) AllocPage() (page.Index, error) {
	if n := len(s.free); n > 0 {
		pageIdx := s.free[n-1]
		s.free = s.free[:n-1]
		return pageIdx, nil
	}
	s.total += 1
	return s.total, nil
}

func (s *memStore) FreePage(pageIdx page.Index) {
	s.free = append(s.free, pageIdx)
}

func (s *memStore) readCont(pageIdx page.Index) (page.Index, error) {
	buf := make([]byte, page.ContHeaderSize)
	if err := s.ReadAt(buf, pageIdx, 0); err != nil {
		return 0, err
	}
	if binary.BigEndian.Uint32(buf) != page.ContMagic {
		return 0, fmt.Errorf("%w: bad continuation magic on page %d", ErrCorrupt, pageIdx)
	}
	return page.Index(binary.BigEndian.Uint32(buf[page.NextPtrOffset:])), nil
}

func (s *memStore) FreeChain(first page.Index) (int, error) {
	n := 0
	for pageIdx := first; pageIdx != 0; n++ {
		next, err := s.readCont(pageIdx)
		if err != nil {
			return n, err
		}
		s.FreePage(pageIdx)
		pageIdx = next
	}
	return n, nil
}

func (s *memStore) ChainLength(first page.Index) (int, error) {
	n := 0
	for pageIdx := first; pageIdx != 0; n++ {
		next, err := s.readCont(pageIdx)
		if err != nil {
			return n, err
		}
		pageIdx = next
	}
	return n, nil
}

func (s *memStore) advance(c *page.Cursor, grow bool) error {
	if c.Offset < page.Size {
		return nil
	}
	if c.Next == 0 {
		if !grow {
			return fmt.Errorf("%w: out of continuation pages", ErrCorrupt)
		}
		next, err := s.AllocPage()
		if err != nil {
			return err
		}
		hdr := binary.BigEndian.AppendUint32(nil, page.ContMagic)
		hdr = binary.BigEndian.AppendUint32(hdr, 0)
		if err := s.WriteAt(hdr, next, 0); err != nil {
			return err
		}
		if err := s.WriteAt(binary.BigEndian.AppendUint32(nil, uint32(next)), c.Page, page.NextPtrOffset); err != nil {
			return err
		}
		c.Next = next
	}
	next, err := s.readCont(c.Next)
	if err != nil {
		return err
	}
	c.Page, c.Next, c.Offset = c.Next, next, page.ContHeaderSize
	return nil
}

func (s *memStore) WriteMultiPageData(data []byte, c *page.Cursor) error {
	for len(data) > 0 {
		if err := s.advance(c, true); err != nil {
			return err
		}
		n := min(len(data), page.Size-c.Offset)
		if err := s.WriteAt(data[:n], c.Page, c.Offset); err != nil {
			return err
		}
		c.Offset += n
		data = data[n:]
	}
	return nil
}

func (s *memStore) ReadMultiPageData(buf []byte, c *page.Cursor) error {
	for len(buf) > 0 {
		if err := s.advance(c, false); err != nil {
			return err
		}
		n := min(len(buf), page.Size-c.Offset)
		if err := s.ReadAt(buf[:n], c.Page, c.Offset); err != nil {
			return err
		}
		c.Offset += n
		buf = buf[n:]
	}
	return nil
}

func (s *memStore) SkipMultiPageBytes(n int, c *page.Cursor) error {
	for n > 0 {
		if err := s.advance(c, false); err != nil {
			return err
		}
		step := min(n, page.Size-c.Offset)
		c.Offset += step
		n -= step
	}
	return nil
}

// used is the number of pages handed out and not freed.
func (s *memStore) used() int {
	return int(s.total) - 2 - len(s.free)
}

func newTestList(t *testing.T, spanSize int) (*List, *memStore) {
	t.Helper()

	store := newMemStore()
	root, err := store.AllocPage()
	require.NoError(t, err)
	require.NoError(t, Init(store, root, spanSize))

	l, err := Open(store, root, spanSize, WithLogger(testLogger), WithCacheSize(4))
	require.NoError(t, err)

	return l, store
}
