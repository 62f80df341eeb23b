package skiplist

import (
	"fmt"

	"github.com/RichardKnop/blockfile/internal/page"
)

// Iterator walks the list forward in key order. A new iterator always starts
// from the first span, so iteration can be restarted by asking for another one.
// Mutating the list while iterating is allowed but the iterator may miss or
// repeat entries of spans it has not reached yet.
type Iterator struct {
	l       *List
	next    page.Index
	keys    [][]byte
	values  [][]byte
	pos     int
	visited map[page.Index]struct{}
	err     error
}

func (l *List) Iterator() *Iterator {
	it := &Iterator{
		l:       l,
		next:    l.firstSpan,
		pos:     -1,
		visited: map[page.Index]struct{}{},
	}
	if l.closed {
		it.err = ErrClosed
	}
	return it
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.pos+1 >= len(it.keys) {
		if it.next == 0 {
			return false
		}
		if _, ok := it.visited[it.next]; ok {
			it.err = fmt.Errorf("%w: span cycle at page %d", ErrCorrupt, it.next)
			return false
		}
		it.visited[it.next] = struct{}{}

		s, err := it.l.loadSpan(it.next)
		if err != nil {
			it.err = err
			return false
		}
		it.keys, it.values, it.pos, it.next = s.keys, s.values, -1, s.next
	}
	it.pos += 1
	return true
}

// Key returns the current key. The slice must not be modified.
func (it *Iterator) Key() []byte {
	return it.keys[it.pos]
}

// Value returns the current value. The slice must not be modified.
func (it *Iterator) Value() []byte {
	return it.values[it.pos]
}

func (it *Iterator) Err() error {
	return it.err
}
