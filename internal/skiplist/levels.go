package skiplist

import (
	"bytes"
	"math/rand"

	"github.com/RichardKnop/blockfile/internal/page"
)

const (
	maxLevel = 16
	levelP   = 0.25
)

// node is a span head in the in-memory skip levels. The first span always
// has a nil key, which sorts before every encoded key.
type node struct {
	key  []byte
	page page.Index
	next []*node
}

type levels struct {
	head  *node
	level int
	rand  *rand.Rand
}

func newLevels(seed int64) *levels {
	return &levels{
		head:  &node{next: make([]*node, maxLevel)},
		level: 1,
		rand:  rand.New(rand.NewSource(seed)),
	}
}

func (l *levels) reset() {
	l.head = &node{next: make([]*node, maxLevel)}
	l.level = 1
}

func (l *levels) randomLevel() int {
	level := 1
	for level < maxLevel && l.rand.Float64() < levelP {
		level++
	}
	return level
}

func (l *levels) first() *node {
	return l.head.next[0]
}

// find returns the last span whose head key is <= key.
func (l *levels) find(key []byte) *node {
	curr := l.head
	for i := l.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && bytes.Compare(curr.next[i].key, key) <= 0 {
			curr = curr.next[i]
		}
	}
	if curr == l.head {
		return l.head.next[0]
	}
	return curr
}

// insert places a node keyed by key, after every node with a smaller key.
func (l *levels) insert(key []byte, pageIdx page.Index) *node {
	update := make([]*node, maxLevel)
	curr := l.head
	for i := l.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && bytes.Compare(curr.next[i].key, key) < 0 {
			curr = curr.next[i]
		}
		update[i] = curr
	}

	level := l.randomLevel()
	if level > l.level {
		for i := l.level; i < level; i++ {
			update[i] = l.head
		}
		l.level = level
	}

	n := &node{
		key:  key,
		page: pageIdx,
		next: make([]*node, level),
	}
	for i := 0; i < level; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	return n
}

// appendTail is used while loading spans in chain order.
func (l *levels) appendTail(tails []*node, key []byte, pageIdx page.Index) {
	level := l.randomLevel()
	if level > l.level {
		l.level = level
	}
	n := &node{
		key:  key,
		page: pageIdx,
		next: make([]*node, level),
	}
	for i := 0; i < level; i++ {
		if tails[i] == nil {
			tails[i] = l.head
		}
		tails[i].next[i] = n
		tails[i] = n
	}
}

func (l *levels) remove(target *node) {
	curr := l.head
	for i := l.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && curr.next[i] != target && bytes.Compare(curr.next[i].key, target.key) < 0 {
			curr = curr.next[i]
		}
		if curr.next[i] == target {
			curr.next[i] = target.next[i]
		}
	}
	for l.level > 1 && l.head.next[l.level-1] == nil {
		l.level--
	}
}
