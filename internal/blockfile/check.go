package blockfile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/RichardKnop/blockfile/internal/page"
)

// Check validates the metaindex, every index in it and the free list. With
// fix set, damage is repaired where possible. It reports whether anything
// was modified. Indices that cannot be opened are logged and skipped.
func (bf *BlockFile) Check(fix bool) (bool, error) {
	if err := bf.ensureOpen(); err != nil {
		return false, err
	}
	fix = fix && bf.writable

	logger := bf.logger.Sugar().With("fix", fix)
	logger.With(
		"pages", bf.totalPages(),
		"free_list", bf.sb.FreeListStart,
		"span_size", bf.sb.SpanSize,
		"was_mounted", bf.wasMounted,
	).Info("checking block file")

	modified, err := bf.metaIndex.list.Check(fix, true)
	if err != nil {
		return modified, fmt.Errorf("check metaindex: %w", err)
	}
	if modified {
		logger.Warn("repaired metaindex")
	}

	type catalogEntry struct {
		name string
		root uint32
	}
	var entries []catalogEntry
	it := bf.metaIndex.Iterator()
	for it.Next() {
		entries = append(entries, catalogEntry{name: it.Key(), root: it.Value()})
	}
	if err := it.Err(); err != nil {
		return modified, fmt.Errorf("scan metaindex: %w", err)
	}

	checked := 0
	for _, e := range entries {
		wasOpen := bf.IsOpen(e.name)
		list, err := bf.openList(e.name, false)
		if err != nil {
			logger.With("index", e.name, "root", e.root, zap.Error(err)).Error("cannot open index")
			continue
		}
		m, err := list.Check(fix, false)
		if err != nil {
			logger.With("index", e.name, zap.Error(err)).Error("index check failed")
		}
		modified = modified || m
		if !wasOpen {
			if err := bf.closeList(e.name); err != nil {
				logger.With("index", e.name, zap.Error(err)).Error("error closing index")
			}
		}
		checked += 1
	}
	logger.Infof("checked metaindex and %d of %d indices", checked, len(entries))

	if bf.sb.FreeListStart != 0 {
		m, err := bf.FreeListCheck(fix)
		if err != nil {
			logger.With(zap.Error(err)).Error("free list check failed")
		}
		modified = modified || m
	} else {
		logger.Info("no free list")
	}

	return modified, nil
}

// FreeListCheck walks the free list chain looking for cycles, unreadable
// blocks and entries that are out of range or listed twice. With fix set the
// chain is cut at the first bad block and bad entries are dropped.
func (bf *BlockFile) FreeListCheck(fix bool) (bool, error) {
	if err := bf.ensureOpen(); err != nil {
		return false, err
	}
	fix = fix && bf.writable

	var (
		total    = bf.totalPages()
		blocks   = map[page.Index]struct{}{}
		listed   = map[page.Index]struct{}{}
		prev     *freeListBlock
		modified bool
		problems int
	)

	validPage := func(p page.Index) bool {
		return p > page.MetaIndex && uint32(p) <= total
	}

	for pageIdx := bf.sb.FreeListStart; pageIdx != 0; {
		reason := ""
		_, isBlock := blocks[pageIdx]
		_, isListed := listed[pageIdx]
		switch {
		case !validPage(pageIdx):
			reason = "block pointer out of range"
		case isBlock:
			reason = "cycle"
		case isListed:
			reason = "block page also listed as free"
		}

		var b *freeListBlock
		if reason == "" {
			var err error
			if b, err = bf.readFreeListBlock(pageIdx); err != nil {
				reason = err.Error()
			}
		}

		if reason != "" {
			problems += 1
			bf.logger.Warn("free list broken",
				zap.Uint32("page", uint32(pageIdx)),
				zap.String("problem", reason),
			)
			if fix {
				if err := bf.truncateFreeList(prev); err != nil {
					return modified, err
				}
				modified = true
			}
			break
		}
		blocks[pageIdx] = struct{}{}

		kept := b.pages[:0:0]
		for _, p := range b.pages {
			_, dup := listed[p]
			_, blk := blocks[p]
			if !validPage(p) || dup || blk {
				problems += 1
				bf.logger.Warn("bad free list entry",
					zap.Uint32("block", uint32(pageIdx)),
					zap.Uint32("page", uint32(p)),
				)
				continue
			}
			listed[p] = struct{}{}
			kept = append(kept, p)
		}
		if len(kept) != len(b.pages) && fix {
			b.pages = kept
			if err := bf.writeFreeListBlock(b); err != nil {
				return modified, err
			}
			bf.flb = nil
			modified = true
		}

		prev = b
		pageIdx = b.next
	}

	bf.logger.Info("checked free list",
		zap.Int("blocks", len(blocks)),
		zap.Int("free_pages", len(listed)),
		zap.Int("problems", problems),
	)

	return modified, nil
}

func (bf *BlockFile) truncateFreeList(last *freeListBlock) error {
	bf.flb = nil
	if last == nil {
		bf.sb.FreeListStart = 0
		return bf.writeSuperblock()
	}
	last.next = 0
	return bf.writeFreeListBlock(last)
}
