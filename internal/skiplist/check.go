package skiplist

import (
	"bytes"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/RichardKnop/blockfile/internal/page"
)

type entry struct {
	key   []byte
	value []byte
}

type scanResult struct {
	spans    []*span
	entries  int
	problems []string
	// rebuild is set for damage that counters alone cannot fix
	rebuild bool
}

func (r *scanResult) problem(rebuild bool, format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
	if rebuild {
		r.rebuild = true
	}
}

// Check validates the list against what is on disk. With fix set it repairs
// what it finds and reports whether anything was modified. Unreadable spans
// and everything chained after them are dropped.
func (l *List) Check(fix, isRoot bool) (bool, error) {
	if l.closed {
		return false, ErrClosed
	}
	logger := l.logger.With(zap.Uint32("root", uint32(l.root)), zap.Bool("meta_index", isRoot))

	res := l.scan()
	if res.entries != l.size {
		res.problem(false, "entry count %d, stored %d", res.entries, l.size)
	}
	if len(res.spans) != l.spans {
		res.problem(false, "span count %d, stored %d", len(res.spans), l.spans)
	}

	if len(res.problems) == 0 {
		logger.Debug("skiplist ok", zap.Int("entries", res.entries), zap.Int("spans", len(res.spans)))
		return false, nil
	}
	for _, p := range res.problems {
		logger.Warn("skiplist problem", zap.String("problem", p))
	}
	if !fix {
		return false, nil
	}

	if !res.rebuild {
		l.size = res.entries
		l.spans = len(res.spans)
		l.dirty = true
		return true, l.Flush()
	}

	if err := l.rebuild(res); err != nil {
		return true, fmt.Errorf("rebuild skiplist at page %d: %w", l.root, err)
	}
	logger.Warn("rebuilt skiplist", zap.Int("entries", l.size), zap.Int("spans", l.spans))

	return true, nil
}

func (l *List) scan() *scanResult {
	var (
		res     = new(scanResult)
		visited = map[page.Index]struct{}{}
		prev    page.Index
		last    []byte
		hasLast bool
		ordered = true
	)
	if l.firstSpan == 0 {
		res.problem(true, "no first span")
	}
	for pageIdx := l.firstSpan; pageIdx != 0; {
		if _, ok := visited[pageIdx]; ok {
			res.problem(true, "span cycle at page %d", pageIdx)
			break
		}
		visited[pageIdx] = struct{}{}

		s, err := l.readSpan(pageIdx)
		if err != nil {
			res.problem(true, "unreadable span at page %d: %v", pageIdx, err)
			break
		}
		if s.prev != prev {
			res.problem(true, "span %d has prev %d, expected %d", pageIdx, s.prev, prev)
		}
		if len(s.keys) == 0 && len(res.spans) > 0 {
			res.problem(true, "empty span at page %d", pageIdx)
		}
		if len(s.keys) > l.spanSize {
			res.problem(true, "span %d has %d keys, maximum %d", pageIdx, len(s.keys), l.spanSize)
		}
		for _, key := range s.keys {
			if hasLast && bytes.Compare(key, last) <= 0 && ordered {
				res.problem(true, "key out of order in span %d", pageIdx)
				ordered = false
			}
			last, hasLast = key, true
		}

		res.spans = append(res.spans, s)
		res.entries += len(s.keys)
		prev = pageIdx
		pageIdx = s.next
	}
	return res
}

// rebuild rewrites all readable entries in order over the readable span pages.
func (l *List) rebuild(res *scanResult) error {
	l.cache.Purge()

	entries := make([]entry, 0, res.entries)
	for _, s := range res.spans {
		for i := range s.keys {
			entries = append(entries, entry{key: s.keys[i], value: s.values[i]})
		}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return bytes.Compare(a.key, b.key)
	})
	entries = slices.CompactFunc(entries, func(a, b entry) bool {
		return bytes.Equal(a.key, b.key)
	})

	groups := (len(entries) + l.spanSize - 1) / l.spanSize
	if groups == 0 {
		groups = 1
	}

	spans := make([]*span, groups)
	for i := range spans {
		if i < len(res.spans) {
			spans[i] = &span{page: res.spans[i].page, cont: res.spans[i].cont}
			continue
		}
		newPage, err := l.store.AllocPage()
		if err != nil {
			return err
		}
		spans[i] = &span{page: newPage}
	}

	for i, s := range spans {
		if i > 0 {
			s.prev = spans[i-1].page
		}
		if i < len(spans)-1 {
			s.next = spans[i+1].page
		}
		start := i * l.spanSize
		end := min(start+l.spanSize, len(entries))
		for _, e := range entries[start:end] {
			s.keys = append(s.keys, e.key)
			s.values = append(s.values, e.value)
		}
		if err := l.writeSpan(s); err != nil {
			return err
		}
	}

	for _, s := range res.spans[min(groups, len(res.spans)):] {
		if s.cont != 0 {
			if _, err := l.store.FreeChain(s.cont); err != nil {
				l.logger.Warn("error freeing continuation pages", zap.Uint32("page", uint32(s.cont)), zap.Error(err))
			}
		}
		l.store.FreePage(s.page)
	}

	l.firstSpan = spans[0].page
	l.size = len(entries)
	l.spans = len(spans)
	l.dirty = true
	if err := l.Flush(); err != nil {
		return err
	}
	l.loadLevels()

	return nil
}
