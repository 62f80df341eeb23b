package blockfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/blockfile/internal/page"
)

func TestCheck_CleanFile(t *testing.T) {
	t.Parallel()

	bf, _ := initTestBlockFile(t, WithSpanSize(8))
	for _, name := range []string{"a", "b"} {
		idx, err := MakeIndex(bf, name, testKeys, testValues)
		require.NoError(t, err)
		fillIndex(t, idx, 100, 1500)
	}
	require.NoError(t, bf.CloseIndex("b"))

	modified, err := bf.Check(false)
	require.NoError(t, err)
	assert.False(t, modified)

	modified, err = bf.Check(true)
	require.NoError(t, err)
	assert.False(t, modified)

	// Check leaves open indices open and closes the ones it opened.
	assert.True(t, bf.IsOpen("a"))
	assert.False(t, bf.IsOpen("b"))
}

func TestCheck_StaleCountersAfterCrash(t *testing.T) {
	t.Parallel()

	bf, path := initTestBlockFile(t, WithSpanSize(8))
	idx, err := MakeIndex(bf, "users", testKeys, testValues)
	require.NoError(t, err)
	expected := fillIndex(t, idx, 100, 20)
	crash(t, bf)

	bf = reopen(t, path)
	require.True(t, bf.WasMounted())

	modified, err := bf.Check(false)
	require.NoError(t, err)
	assert.False(t, modified)

	modified, err = bf.Check(true)
	require.NoError(t, err)
	assert.True(t, modified)

	modified, err = bf.Check(true)
	require.NoError(t, err)
	assert.False(t, modified)

	idx, err = GetIndex(bf, "users", testKeys, testValues)
	require.NoError(t, err)
	assertIndexContents(t, idx, expected)
}

func TestCheck_RepairOnOpen(t *testing.T) {
	t.Parallel()

	bf, path := initTestBlockFile(t, WithSpanSize(8))
	idx, err := MakeIndex(bf, "users", testKeys, testValues)
	require.NoError(t, err)
	expected := fillIndex(t, idx, 60, 20)
	crash(t, bf)

	bf = reopen(t, path)
	idx, err = GetIndex(bf, "users", testKeys, testValues)
	require.NoError(t, err)
	assertIndexContents(t, idx, expected)
}

func TestCheck_UnresolvableIndex(t *testing.T) {
	t.Parallel()

	bf, _ := initTestBlockFile(t)
	idx, err := MakeIndex(bf, "good", testKeys, testValues)
	require.NoError(t, err)
	expected := fillIndex(t, idx, 10, 10)

	_, _, err = bf.metaIndex.Put("ghost", 9999)
	require.NoError(t, err)

	modified, err := bf.Check(true)
	require.NoError(t, err)
	assert.False(t, modified)

	_, err = GetIndex(bf, "ghost", testKeys, testValues)
	require.ErrorIs(t, err, ErrCorrupt)

	idx, err = GetIndex(bf, "good", testKeys, testValues)
	require.NoError(t, err)
	assertIndexContents(t, idx, expected)
}

func TestFreeListCheck(t *testing.T) {
	t.Parallel()

	t.Run("duplicate and out of range entries are dropped", func(t *testing.T) {
		bf, _ := initTestBlockFile(t)
		pages := allocPages(t, bf, 3)
		bf.FreePage(pages[0])
		bf.FreePage(pages[1])
		bf.FreePage(pages[1])

		head, err := bf.headBlock()
		require.NoError(t, err)
		head.pages = append(head.pages, 5000)
		require.NoError(t, bf.writeFreeListBlock(head))

		modified, err := bf.FreeListCheck(false)
		require.NoError(t, err)
		assert.False(t, modified)

		modified, err = bf.FreeListCheck(true)
		require.NoError(t, err)
		assert.True(t, modified)

		blocks, entries := freeListContents(t, bf)
		assert.Equal(t, []page.Index{pages[0]}, blocks)
		assert.Equal(t, []page.Index{pages[1]}, entries)

		modified, err = bf.Check(true)
		require.NoError(t, err)
		assert.False(t, modified)
	})

	t.Run("corrupt head block truncates the list", func(t *testing.T) {
		bf, _ := initTestBlockFile(t)
		for _, p := range allocPages(t, bf, 5) {
			bf.FreePage(p)
		}
		require.NoError(t, bf.WriteAt([]byte{0xff, 0xff}, bf.sb.FreeListStart, 20))
		bf.flb = nil

		modified, err := bf.Check(true)
		require.NoError(t, err)
		assert.True(t, modified)
		assert.Equal(t, page.Index(0), bf.sb.FreeListStart)

		_, err = bf.AllocPage()
		require.NoError(t, err)
	})

	t.Run("cycle is cut", func(t *testing.T) {
		bf, _ := initTestBlockFile(t)
		pages := allocPages(t, bf, 2*FreeListCapacity+3)
		for _, p := range pages {
			bf.FreePage(p)
		}
		blocks, _ := freeListContents(t, bf)
		require.Len(t, blocks, 3)

		tail, err := bf.readFreeListBlock(blocks[2])
		require.NoError(t, err)
		tail.next = blocks[0]
		require.NoError(t, bf.writeFreeListBlock(tail))

		modified, err := bf.FreeListCheck(true)
		require.NoError(t, err)
		assert.True(t, modified)

		after, _ := freeListContents(t, bf)
		assert.Equal(t, blocks, after)
	})
}
