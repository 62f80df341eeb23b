package blockfile

import (
	"fmt"

	"github.com/RichardKnop/blockfile/internal/page"
)

type Stats struct {
	TotalPages     uint32
	FreePages      int // free list entries plus the blocks holding them
	FreeListBlocks int
	MetaIndexPages int
	IndexPages     map[string]int
	OpenIndices    int
	SpanSize       int
	WasMounted     bool
}

// UsedPages is the number of pages referenced by the superblock, the
// metaindex and every index.
func (s Stats) UsedPages() int {
	used := 1 + s.MetaIndexPages
	for _, n := range s.IndexPages {
		used += n
	}
	return used
}

// Stats walks the free list and every index to account for the file's pages.
func (bf *BlockFile) Stats() (Stats, error) {
	if err := bf.ensureOpen(); err != nil {
		return Stats{}, err
	}
	s := Stats{
		TotalPages:  bf.totalPages(),
		IndexPages:  make(map[string]int),
		OpenIndices: len(bf.openIndices),
		SpanSize:    bf.spanSize(),
		WasMounted:  bf.wasMounted,
	}

	visited := map[page.Index]struct{}{}
	for pageIdx := bf.sb.FreeListStart; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			return s, fmt.Errorf("%w: free list cycle at page %d", ErrCorrupt, pageIdx)
		}
		visited[pageIdx] = struct{}{}
		b, err := bf.readFreeListBlock(pageIdx)
		if err != nil {
			return s, err
		}
		s.FreeListBlocks += 1
		s.FreePages += 1 + len(b.pages)
		pageIdx = b.next
	}

	n, err := bf.metaIndex.list.Pages()
	if err != nil {
		return s, fmt.Errorf("metaindex pages: %w", err)
	}
	s.MetaIndexPages = n

	it := bf.metaIndex.Iterator()
	var names []string
	for it.Next() {
		names = append(names, it.Key())
	}
	if err := it.Err(); err != nil {
		return s, err
	}
	for _, name := range names {
		wasOpen := bf.IsOpen(name)
		list, err := bf.openList(name, false)
		if err != nil {
			return s, err
		}
		n, err := list.Pages()
		if !wasOpen {
			if cerr := bf.closeList(name); cerr != nil && err == nil {
				err = cerr
			}
		}
		if err != nil {
			return s, fmt.Errorf("index %q pages: %w", name, err)
		}
		s.IndexPages[name] = n
	}

	return s, nil
}
