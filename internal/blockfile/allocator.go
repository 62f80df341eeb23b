package blockfile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/RichardKnop/blockfile/internal/page"
)

// AllocPage returns a page for the caller to own. Pages come from the free
// list first and the file grows only when the list is empty. A corrupt free
// list is discarded and the file grows instead.
func (bf *BlockFile) AllocPage() (page.Index, error) {
	if err := bf.ensureWritable(); err != nil {
		return 0, err
	}

	if bf.sb.FreeListStart != 0 {
		pageIdx, err := bf.allocFromFreeList()
		if err == nil {
			bf.logger.Debug("allocated page from free list", zap.Uint32("page", uint32(pageIdx)))
			return pageIdx, nil
		}
		bf.logger.Error("discarding corrupt free list",
			zap.Uint32("head", uint32(bf.sb.FreeListStart)),
			zap.Error(err),
		)
		bf.flb = nil
		bf.sb.FreeListStart = 0
	}

	return bf.growFile()
}

func (bf *BlockFile) allocFromFreeList() (page.Index, error) {
	flb, err := bf.headBlock()
	if err != nil {
		return 0, err
	}

	if flb.isEmpty() {
		// The block itself is the allocated page.
		bf.sb.FreeListStart = flb.next
		bf.flb = nil
		if err := bf.writeSuperblock(); err != nil {
			return 0, err
		}
		return flb.page, nil
	}

	last := len(flb.pages) - 1
	pageIdx := flb.pages[last]
	if pageIdx <= page.MetaIndex || uint32(pageIdx) > bf.totalPages() {
		return 0, fmt.Errorf("%w: free list block %d lists page %d", ErrCorrupt, flb.page, pageIdx)
	}
	flb.pages = flb.pages[:last]
	if err := bf.writeFreeListBlock(flb); err != nil {
		bf.flb = nil
		return 0, err
	}
	return pageIdx, nil
}

func (bf *BlockFile) growFile() (page.Index, error) {
	total := bf.totalPages()
	if total >= page.MaxPages {
		return 0, ErrFileTooLarge
	}

	newLen := bf.sb.FileLen + page.Size
	if err := bf.file.Truncate(int64(newLen)); err != nil {
		return 0, fmt.Errorf("grow file: %w", err)
	}
	bf.sb.FileLen = newLen
	if err := bf.writeSuperblock(); err != nil {
		return 0, err
	}

	pageIdx := page.Index(total + 1)
	bf.logger.Debug("grew file", zap.Uint32("page", uint32(pageIdx)))

	return pageIdx, nil
}

// FreePage returns a page to the free list. Failures are logged rather than
// returned, a lost page is only wasted space.
func (bf *BlockFile) FreePage(pageIdx page.Index) {
	if pageIdx <= page.MetaIndex {
		bf.logger.Error("bad page free attempt", zap.Uint32("page", uint32(pageIdx)))
		return
	}
	if !bf.writable || bf.closed {
		bf.logger.Error("page free on a read only or closed block file", zap.Uint32("page", uint32(pageIdx)))
		return
	}
	if uint32(pageIdx) > bf.totalPages() {
		bf.logger.Error("page free beyond end of file", zap.Uint32("page", uint32(pageIdx)))
		return
	}

	if err := bf.freePage(pageIdx); err != nil {
		bf.logger.Error("error freeing page", zap.Uint32("page", uint32(pageIdx)), zap.Error(err))
		return
	}
	bf.logger.Debug("freed page", zap.Uint32("page", uint32(pageIdx)))
}

func (bf *BlockFile) freePage(pageIdx page.Index) error {
	if bf.sb.FreeListStart == 0 {
		return bf.newFreeListHead(pageIdx, 0)
	}

	flb, err := bf.headBlock()
	if err != nil {
		bf.logger.Error("discarding corrupt free list",
			zap.Uint32("head", uint32(bf.sb.FreeListStart)),
			zap.Error(err),
		)
		return bf.newFreeListHead(pageIdx, 0)
	}

	if !flb.isFull() {
		flb.pages = append(flb.pages, pageIdx)
		if err := bf.writeFreeListBlock(flb); err != nil {
			bf.flb = nil
			return err
		}
		return nil
	}

	if flb.next == 0 {
		// Link the new block as the tail, so the next frees have room.
		tail := &freeListBlock{page: pageIdx}
		if err := bf.writeFreeListBlock(tail); err != nil {
			return err
		}
		flb.next = pageIdx
		if err := bf.writeFreeListBlock(flb); err != nil {
			bf.flb = nil
			return err
		}
		return nil
	}

	return bf.newFreeListHead(pageIdx, bf.sb.FreeListStart)
}

func (bf *BlockFile) newFreeListHead(pageIdx, next page.Index) error {
	b := &freeListBlock{page: pageIdx, next: next}
	if err := bf.writeFreeListBlock(b); err != nil {
		return err
	}
	bf.flb = b
	bf.sb.FreeListStart = pageIdx
	return bf.writeSuperblock()
}
