// Package skiplist implements the persistent ordered map that backs every
// named index of a block file.
//
// A list is a root page plus a doubly linked chain of span pages. Each span
// holds up to spanSize sorted entries; entries that do not fit in the span
// page continue on chained continuation pages. Only span heads are kept in
// memory, in probabilistic skip levels rebuilt when the list is opened.
// Decoded spans are cached in an LRU cache and written through on change.
package skiplist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardKnop/blockfile/internal/page"
	"github.com/RichardKnop/blockfile/pkg/lrucache"
)

const (
	rootMagic      uint32 = 0x534b4950 // "SKIP"
	rootHeaderSize        = 20

	DefaultCacheSize = 64

	// maxPayload bounds the payload length read from a span header so a
	// corrupt header cannot make us allocate gigabytes.
	maxPayload = 1 << 30
)

var (
	ErrCorrupt = errors.New("skiplist corrupt")
	ErrClosed  = errors.New("skiplist closed")
)

// Store is the block file as seen by a list.
type Store interface {
	ReadAt(buf []byte, pageIdx page.Index, offset int) error
	WriteAt(buf []byte, pageIdx page.Index, offset int) error
	AllocPage() (page.Index, error)
	FreePage(pageIdx page.Index)
	FreeChain(first page.Index) (int, error)
	ChainLength(first page.Index) (int, error)
	WriteMultiPageData(data []byte, c *page.Cursor) error
	ReadMultiPageData(buf []byte, c *page.Cursor) error
	SkipMultiPageBytes(n int, c *page.Cursor) error
}

type List struct {
	store     Store
	root      page.Index
	spanSize  int
	firstSpan page.Index
	size      int
	spans     int
	dirty     bool
	closed    bool
	levels    *levels
	cache     *lrucache.Cache[page.Index, *span]
	cacheSize int
	logger    *zap.Logger
}

type Option func(*List)

func WithLogger(logger *zap.Logger) Option {
	return func(l *List) {
		l.logger = logger
	}
}

func WithCacheSize(spans int) Option {
	return func(l *List) {
		l.cacheSize = spans
	}
}

// Init writes an empty list rooted at root: the root page plus one empty span.
func Init(store Store, root page.Index, spanSize int) error {
	spanPage, err := store.AllocPage()
	if err != nil {
		return fmt.Errorf("allocate first span: %w", err)
	}
	s := &span{page: spanPage}
	h := s.header()
	buf := make([]byte, spanHeaderSize)
	h.Marshal(buf)
	if err := store.WriteAt(buf, spanPage, 0); err != nil {
		return err
	}
	return writeRoot(store, root, spanPage, 0, 1)
}

// Open binds a list to an existing root page.
func Open(store Store, root page.Index, spanSize int, opts ...Option) (*List, error) {
	l := &List{
		store:     store,
		root:      root,
		spanSize:  spanSize,
		cacheSize: DefaultCacheSize,
		logger:    zap.NewNop(),
		levels:    newLevels(int64(root)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.spanSize < 1 {
		return nil, fmt.Errorf("invalid span size %d", spanSize)
	}
	l.cache = lrucache.New[page.Index, *span](l.cacheSize)

	buf := make([]byte, rootHeaderSize)
	if err := store.ReadAt(buf, root, 0); err != nil {
		return nil, fmt.Errorf("read root page %d: %w", root, err)
	}
	if magic := binary.BigEndian.Uint32(buf[0:]); magic != rootMagic {
		return nil, fmt.Errorf("%w: bad root magic 0x%08x on page %d", ErrCorrupt, magic, root)
	}
	l.firstSpan = page.Index(binary.BigEndian.Uint32(buf[8:]))
	l.size = int(binary.BigEndian.Uint32(buf[12:]))
	l.spans = int(binary.BigEndian.Uint32(buf[16:]))

	l.loadLevels()

	return l, nil
}

func writeRoot(store Store, root, firstSpan page.Index, size, spans int) error {
	buf := make([]byte, rootHeaderSize)
	binary.BigEndian.PutUint32(buf[0:], rootMagic)
	binary.BigEndian.PutUint32(buf[4:], 0)
	binary.BigEndian.PutUint32(buf[8:], uint32(firstSpan))
	binary.BigEndian.PutUint32(buf[12:], uint32(size))
	binary.BigEndian.PutUint32(buf[16:], uint32(spans))
	return store.WriteAt(buf, root, 0)
}

func (l *List) RootPage() page.Index {
	return l.root
}

// Len returns the number of entries.
func (l *List) Len() int {
	return l.size
}

// Get returns the value stored under key. The returned slice must not be modified.
func (l *List) Get(key []byte) ([]byte, bool, error) {
	_, s, err := l.spanFor(key)
	if err != nil {
		return nil, false, err
	}
	i, found := search(s.keys, key)
	if !found {
		return nil, false, nil
	}
	return s.values[i], true, nil
}

// Put stores value under key and returns the previous value if there was one.
func (l *List) Put(key, value []byte) ([]byte, bool, error) {
	_, s, err := l.spanFor(key)
	if err != nil {
		return nil, false, err
	}

	i, found := search(s.keys, key)
	if found {
		prev := s.values[i]
		values := slices.Clone(s.values)
		values[i] = bytes.Clone(value)
		s.values = values
		return prev, true, l.writeSpan(s)
	}

	s.keys = slices.Insert(slices.Clone(s.keys), i, bytes.Clone(key))
	s.values = slices.Insert(slices.Clone(s.values), i, bytes.Clone(value))

	if len(s.keys) > l.spanSize {
		err = l.split(s)
	} else {
		err = l.writeSpan(s)
	}
	if err != nil {
		l.cache.Remove(s.page)
		return nil, false, err
	}
	l.size += 1
	l.dirty = true
	return nil, false, nil
}

// Remove deletes key and returns the value it had.
func (l *List) Remove(key []byte) ([]byte, bool, error) {
	n, s, err := l.spanFor(key)
	if err != nil {
		return nil, false, err
	}

	i, found := search(s.keys, key)
	if !found {
		return nil, false, nil
	}

	prev := s.values[i]
	s.keys = slices.Delete(slices.Clone(s.keys), i, i+1)
	s.values = slices.Delete(slices.Clone(s.values), i, i+1)

	isFirst := n == l.levels.first()
	if len(s.keys) == 0 && !isFirst {
		err = l.unlink(n, s)
	} else {
		err = l.writeSpan(s)
	}
	if err != nil {
		l.cache.Remove(s.page)
		return nil, false, err
	}
	if i == 0 && !isFirst && len(s.keys) > 0 {
		n.key = s.keys[0]
	}
	l.size -= 1
	l.dirty = true
	return prev, true, nil
}

// Flush persists the entry and span counters. Span contents are always
// written through.
func (l *List) Flush() error {
	if l.closed {
		return ErrClosed
	}
	if !l.dirty {
		return nil
	}
	if err := writeRoot(l.store, l.root, l.firstSpan, l.size, l.spans); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *List) Close() error {
	if l.closed {
		return nil
	}
	err := l.Flush()
	l.closed = true
	l.cache.Purge()
	return err
}

// Delete releases every page the list owns, root page included.
func (l *List) Delete() error {
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	l.cache.Purge()

	var (
		errs    error
		visited = map[page.Index]struct{}{}
	)
	for pageIdx := l.firstSpan; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: span cycle at page %d", ErrCorrupt, pageIdx))
			break
		}
		visited[pageIdx] = struct{}{}

		h, err := l.readHeader(pageIdx)
		if err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if h.Cont != 0 {
			if _, err := l.store.FreeChain(h.Cont); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		l.store.FreePage(pageIdx)
		pageIdx = h.Next
	}
	l.store.FreePage(l.root)

	l.logger.Debug("deleted skiplist", zap.Uint32("root", uint32(l.root)), zap.Int("spans", len(visited)))

	return errs
}

// Pages counts every page the list references: root, spans and their
// continuation pages.
func (l *List) Pages() (int, error) {
	var (
		count   = 1
		visited = map[page.Index]struct{}{}
	)
	for pageIdx := l.firstSpan; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			return count, fmt.Errorf("%w: span cycle at page %d", ErrCorrupt, pageIdx)
		}
		visited[pageIdx] = struct{}{}

		h, err := l.readHeader(pageIdx)
		if err != nil {
			return count, err
		}
		conts, err := l.store.ChainLength(h.Cont)
		if err != nil {
			return count, err
		}
		count += 1 + conts
		pageIdx = h.Next
	}
	return count, nil
}

func (l *List) spanFor(key []byte) (*node, *span, error) {
	if l.closed {
		return nil, nil, ErrClosed
	}
	n := l.levels.find(key)
	if n == nil {
		return nil, nil, fmt.Errorf("%w: no readable span in list at page %d", ErrCorrupt, l.root)
	}
	s, err := l.loadSpan(n.page)
	if err != nil {
		return nil, nil, err
	}
	return n, s, nil
}

func (l *List) split(s *span) error {
	newPage, err := l.store.AllocPage()
	if err != nil {
		return err
	}

	mid := len(s.keys) / 2
	ns := &span{
		page:   newPage,
		prev:   s.page,
		next:   s.next,
		keys:   slices.Clone(s.keys[mid:]),
		values: slices.Clone(s.values[mid:]),
	}
	s.keys = s.keys[:mid:mid]
	s.values = s.values[:mid:mid]

	if err := l.writeSpan(ns); err != nil {
		return err
	}
	if s.next != 0 {
		if err := l.setPrev(s.next, newPage); err != nil {
			return err
		}
	}
	s.next = newPage
	if err := l.writeSpan(s); err != nil {
		return err
	}

	l.levels.insert(ns.keys[0], newPage)
	l.spans += 1
	l.dirty = true

	return nil
}

func (l *List) unlink(n *node, s *span) error {
	if s.prev != 0 {
		if err := l.setNext(s.prev, s.next); err != nil {
			return err
		}
	}
	if s.next != 0 {
		if err := l.setPrev(s.next, s.prev); err != nil {
			return err
		}
	}
	l.levels.remove(n)
	l.cache.Remove(s.page)
	l.spans -= 1

	if s.cont != 0 {
		if _, err := l.store.FreeChain(s.cont); err != nil {
			return err
		}
	}
	l.store.FreePage(s.page)

	return nil
}

func (l *List) setPrev(pageIdx, prev page.Index) error {
	if s, ok := l.cache.Peek(pageIdx); ok {
		s.prev = prev
	}
	return l.store.WriteAt(binary.BigEndian.AppendUint32(nil, uint32(prev)), pageIdx, spanPrevOffset)
}

func (l *List) setNext(pageIdx, next page.Index) error {
	if s, ok := l.cache.Peek(pageIdx); ok {
		s.next = next
	}
	return l.store.WriteAt(binary.BigEndian.AppendUint32(nil, uint32(next)), pageIdx, spanNextOffset)
}

func (l *List) loadSpan(pageIdx page.Index) (*span, error) {
	if s, ok := l.cache.Get(pageIdx); ok {
		return s, nil
	}
	s, err := l.readSpan(pageIdx)
	if err != nil {
		return nil, err
	}
	l.cache.Put(pageIdx, s)
	return s, nil
}

func (l *List) readHeader(pageIdx page.Index) (spanHeader, error) {
	var h spanHeader
	buf := make([]byte, spanHeaderSize)
	if err := l.store.ReadAt(buf, pageIdx, 0); err != nil {
		return h, err
	}
	if err := h.Unmarshal(buf); err != nil {
		return h, fmt.Errorf("span page %d: %w", pageIdx, err)
	}
	return h, nil
}

func (l *List) readSpan(pageIdx page.Index) (*span, error) {
	h, err := l.readHeader(pageIdx)
	if err != nil {
		return nil, err
	}
	if h.PayloadLen > maxPayload {
		return nil, fmt.Errorf("%w: span page %d payload length %d", ErrCorrupt, pageIdx, h.PayloadLen)
	}

	buf := make([]byte, h.PayloadLen)
	c := page.Cursor{Page: pageIdx, Offset: spanHeaderSize, Next: h.Cont}
	if err := l.store.ReadMultiPageData(buf, &c); err != nil {
		return nil, fmt.Errorf("span page %d: %w", pageIdx, err)
	}
	keys, values, err := unmarshalPayload(buf, int(h.Keys))
	if err != nil {
		return nil, fmt.Errorf("span page %d: %w", pageIdx, err)
	}

	return &span{
		page:   pageIdx,
		cont:   h.Cont,
		prev:   h.Prev,
		next:   h.Next,
		keys:   keys,
		values: values,
	}, nil
}

// readFirstKey reads the header and only the first key of a span.
func (l *List) readFirstKey(pageIdx page.Index) ([]byte, spanHeader, error) {
	h, err := l.readHeader(pageIdx)
	if err != nil {
		return nil, h, err
	}
	if h.Keys == 0 {
		return nil, h, nil
	}

	c := page.Cursor{Page: pageIdx, Offset: spanHeaderSize, Next: h.Cont}
	lenBuf := make([]byte, 4)
	if err := l.store.ReadMultiPageData(lenBuf, &c); err != nil {
		return nil, h, err
	}
	keyLen := binary.BigEndian.Uint32(lenBuf)
	if keyLen+4 > h.PayloadLen {
		return nil, h, fmt.Errorf("%w: span page %d key length %d", ErrCorrupt, pageIdx, keyLen)
	}
	key := make([]byte, keyLen)
	if err := l.store.ReadMultiPageData(key, &c); err != nil {
		return nil, h, err
	}
	return key, h, nil
}

func (l *List) writeSpan(s *span) error {
	if err := l.doWriteSpan(s); err != nil {
		l.cache.Remove(s.page)
		return fmt.Errorf("write span page %d: %w", s.page, err)
	}
	l.cache.Put(s.page, s)
	return nil
}

func (l *List) doWriteSpan(s *span) error {
	h := s.header()
	buf := make([]byte, spanHeaderSize)
	h.Marshal(buf)
	if err := l.store.WriteAt(buf, s.page, 0); err != nil {
		return err
	}

	c := page.Cursor{Page: s.page, Offset: spanHeaderSize, Next: s.cont}
	if err := l.store.WriteMultiPageData(s.marshalPayload(), &c); err != nil {
		return err
	}
	if s.cont == 0 && c.Page != s.page {
		// The write grew a first continuation page and linked it in.
		ptr := make([]byte, 4)
		if err := l.store.ReadAt(ptr, s.page, page.NextPtrOffset); err != nil {
			return err
		}
		s.cont = page.Index(binary.BigEndian.Uint32(ptr))
	}

	if c.Next == 0 {
		return nil
	}

	// The span shrank, release the continuation pages past the end.
	if _, err := l.store.FreeChain(c.Next); err != nil {
		l.logger.Warn("error freeing surplus continuation pages", zap.Uint32("page", uint32(c.Next)), zap.Error(err))
	}
	if err := l.store.WriteAt(make([]byte, 4), c.Page, page.NextPtrOffset); err != nil {
		return err
	}
	if c.Page == s.page {
		s.cont = 0
	}
	return nil
}

// loadLevels rebuilds the skip levels from the span chain. It stops at the
// first span it cannot read, Check reports and repairs such lists.
func (l *List) loadLevels() {
	l.levels.reset()

	var (
		tails   = make([]*node, maxLevel)
		visited = map[page.Index]struct{}{}
		lastKey []byte
	)
	for pageIdx := l.firstSpan; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			l.logger.Warn("span cycle", zap.Uint32("root", uint32(l.root)), zap.Uint32("page", uint32(pageIdx)))
			return
		}
		visited[pageIdx] = struct{}{}

		key, h, err := l.readFirstKey(pageIdx)
		if err != nil {
			l.logger.Warn("unreadable span", zap.Uint32("root", uint32(l.root)), zap.Uint32("page", uint32(pageIdx)), zap.Error(err))
			return
		}

		switch {
		case len(visited) == 1:
			l.levels.appendTail(tails, nil, pageIdx)
		case key == nil || bytes.Compare(key, lastKey) <= 0:
			l.logger.Warn("span out of order", zap.Uint32("root", uint32(l.root)), zap.Uint32("page", uint32(pageIdx)))
		default:
			l.levels.appendTail(tails, key, pageIdx)
			lastKey = key
		}

		pageIdx = h.Next
	}
}

func search(keys [][]byte, key []byte) (int, bool) {
	return slices.BinarySearchFunc(keys, key, bytes.Compare)
}
