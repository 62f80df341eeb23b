package lrucache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockValue struct {
	data string
}

func TestLRUCache_HitAndMiss(t *testing.T) {
	t.Parallel()

	cache := New[string, mockValue](10)

	value, ok := cache.Get("bogus")
	assert.False(t, ok)
	assert.Equal(t, mockValue{}, value)

	cache.Put("foo key", mockValue{"foo"})

	value, ok = cache.Get("foo key")
	assert.True(t, ok)
	assert.Equal(t, mockValue{"foo"}, value)

	_, ok = cache.Get("bar key")
	assert.False(t, ok)
}

func TestLRUCache_LRUEviction(t *testing.T) {
	t.Parallel()

	cache := New[string, mockValue](3)

	assert.False(t, cache.Put("foo key", mockValue{"foo"}))
	assert.False(t, cache.Put("bar key", mockValue{"bar"}))
	assert.False(t, cache.Put("baz key", mockValue{"baz"}))

	// Adding a 4th item evicts the oldest one
	assert.True(t, cache.Put("qux key", mockValue{"qux"}))
	assert.Equal(t, 3, cache.Len())

	_, ok := cache.Peek("foo key")
	assert.False(t, ok, "oldest entry should have been evicted")
	for _, key := range []string{"bar key", "baz key", "qux key"} {
		_, ok = cache.Peek(key)
		assert.True(t, ok, key)
	}
}

func TestLRUCache_LRUOrdering(t *testing.T) {
	t.Parallel()

	cache := New[int, string](3)

	cache.Put(1, "one")
	cache.Put(2, "two")
	cache.Put(3, "three")

	// Get promotes 1, Peek does not promote 2
	_, ok := cache.Get(1)
	assert.True(t, ok)
	_, ok = cache.Peek(2)
	assert.True(t, ok)

	cache.Put(4, "four")

	_, ok = cache.Peek(2)
	assert.False(t, ok, "2 should have been evicted as LRU")
	_, ok = cache.Peek(1)
	assert.True(t, ok, "1 should still be cached")
}

func TestLRUCache_RemoveAndPurge(t *testing.T) {
	t.Parallel()

	cache := New[int, string](5)
	for i := range 5 {
		cache.Put(i, fmt.Sprint(i))
	}

	assert.True(t, cache.Remove(0))
	assert.True(t, cache.Remove(4))
	assert.True(t, cache.Remove(2))
	assert.False(t, cache.Remove(2))
	assert.Equal(t, 2, cache.Len())

	// List links stay consistent after removing head, tail and middle
	cache.Put(5, "5")
	cache.Put(6, "6")
	cache.Put(7, "7")
	cache.Put(8, "8")
	assert.Equal(t, 5, cache.Len())
	_, ok := cache.Peek(1)
	assert.False(t, ok)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	_, ok = cache.Get(8)
	assert.False(t, ok)
}

func TestLRUCache_Concurrent(t *testing.T) {
	t.Parallel()

	var (
		cache = New[string, mockValue](100)
		wg    sync.WaitGroup
	)

	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("foo%d", n)
			cache.Put(key, mockValue{fmt.Sprintf("value%d", n)})
		}(i)
	}

	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cache.Get(fmt.Sprintf("foo%d", n))
		}(i)
	}

	wg.Wait()

	for i := range 50 {
		key := fmt.Sprintf("foo%d", i)
		_, ok := cache.Get(key)
		assert.True(t, ok, "key %s should be in cache", key)
	}
}
