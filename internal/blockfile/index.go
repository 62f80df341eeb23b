package blockfile

import (
	"github.com/RichardKnop/blockfile/internal/page"
	"github.com/RichardKnop/blockfile/internal/skiplist"
	"github.com/RichardKnop/blockfile/pkg/serial"
)

// Index is a typed view over a named index. Keys are ordered by the bytes
// their serializer produces, so key serializers must preserve order.
type Index[K, V any] struct {
	name   string
	list   *skiplist.List
	keys   serial.Serializer[K]
	values serial.Serializer[V]
}

func newIndex[K, V any](name string, list *skiplist.List, keys serial.Serializer[K], values serial.Serializer[V]) *Index[K, V] {
	return &Index[K, V]{
		name:   name,
		list:   list,
		keys:   keys,
		values: values,
	}
}

func (i *Index[K, V]) Name() string {
	return i.name
}

func (i *Index[K, V]) RootPage() page.Index {
	return i.list.RootPage()
}

func (i *Index[K, V]) Len() int {
	return i.list.Len()
}

func (i *Index[K, V]) Get(key K) (V, bool, error) {
	var zero V
	k, err := i.keys.Marshal(key)
	if err != nil {
		return zero, false, err
	}
	raw, ok, err := i.list.Get(k)
	if err != nil || !ok {
		return zero, false, err
	}
	return i.decode(raw)
}

// Put stores value under key and returns the value it replaced, if any.
func (i *Index[K, V]) Put(key K, value V) (V, bool, error) {
	var zero V
	k, err := i.keys.Marshal(key)
	if err != nil {
		return zero, false, err
	}
	v, err := i.values.Marshal(value)
	if err != nil {
		return zero, false, err
	}
	raw, ok, err := i.list.Put(k, v)
	if err != nil || !ok {
		return zero, false, err
	}
	return i.decode(raw)
}

// Remove deletes key and returns the value it had, if any.
func (i *Index[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	k, err := i.keys.Marshal(key)
	if err != nil {
		return zero, false, err
	}
	raw, ok, err := i.list.Remove(k)
	if err != nil || !ok {
		return zero, false, err
	}
	return i.decode(raw)
}

// Flush writes pending counters to disk.
func (i *Index[K, V]) Flush() error {
	return i.list.Flush()
}

func (i *Index[K, V]) decode(raw []byte) (V, bool, error) {
	v, err := i.values.Unmarshal(raw)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v, true, nil
}

// Iterator returns an iterator positioned before the smallest key.
func (i *Index[K, V]) Iterator() *Iterator[K, V] {
	return &Iterator[K, V]{
		it:     i.list.Iterator(),
		keys:   i.keys,
		values: i.values,
	}
}

type Iterator[K, V any] struct {
	it     *skiplist.Iterator
	keys   serial.Serializer[K]
	values serial.Serializer[V]
	key    K
	value  V
	err    error
}

func (it *Iterator[K, V]) Next() bool {
	if it.err != nil || !it.it.Next() {
		return false
	}
	key, err := it.keys.Unmarshal(it.it.Key())
	if err != nil {
		it.err = err
		return false
	}
	value, err := it.values.Unmarshal(it.it.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.key, it.value = key, value
	return true
}

func (it *Iterator[K, V]) Key() K {
	return it.key
}

func (it *Iterator[K, V]) Value() V {
	return it.value
}

func (it *Iterator[K, V]) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.it.Err()
}
