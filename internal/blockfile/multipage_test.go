package blockfile

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/blockfile/internal/page"
)

// firstPageCursor positions a cursor on a chain's first page, picking up the
// continuation pointer stored at its next pointer offset.
func firstPageCursor(t *testing.T, bf *BlockFile, pageIdx page.Index, offset int) *page.Cursor {
	t.Helper()

	ptr := make([]byte, 4)
	require.NoError(t, bf.ReadAt(ptr, pageIdx, page.NextPtrOffset))
	return &page.Cursor{
		Page:   pageIdx,
		Offset: offset,
		Next:   page.Index(binary.BigEndian.Uint32(ptr)),
	}
}

func TestMultiPageData_RoundTrip(t *testing.T) {
	t.Parallel()

	var (
		lengths = []int{0, 1, 100, page.Size - 24, page.Size, 3000, 5 * page.Size}
		offsets = []int{page.ContHeaderSize, 24, 500, page.Size - 1, page.Size}
	)

	bf, _ := initTestBlockFile(t)

	for _, length := range lengths {
		for _, offset := range offsets {
			t.Run(fmt.Sprintf("length %d offset %d", length, offset), func(t *testing.T) {
				first, err := bf.AllocPage()
				require.NoError(t, err)

				data := gen.Value(length)
				c := &page.Cursor{Page: first, Offset: offset}
				require.NoError(t, bf.WriteMultiPageData(data, c))

				payload := page.Size - offset
				if length > payload {
					extra := (length - payload + page.ContPayloadSize - 1) / page.ContPayloadSize
					conts, err := bf.ChainLength(firstPageCursor(t, bf, first, offset).Next)
					require.NoError(t, err)
					assert.Equal(t, extra, conts)
				}

				buf := make([]byte, length)
				require.NoError(t, bf.ReadMultiPageData(buf, firstPageCursor(t, bf, first, offset)))
				assert.Equal(t, data, buf)
			})
		}
	}
}

func TestMultiPageData_Cursor(t *testing.T) {
	t.Parallel()

	bf, _ := initTestBlockFile(t)
	first, err := bf.AllocPage()
	require.NoError(t, err)

	// Consecutive writes continue where the previous one stopped.
	parts := [][]byte{gen.Value(700), gen.Value(900), gen.Value(2500)}
	c := &page.Cursor{Page: first, Offset: page.ContHeaderSize}
	for _, part := range parts {
		require.NoError(t, bf.WriteMultiPageData(part, c))
	}
	assert.NotEqual(t, first, c.Page)

	rc := firstPageCursor(t, bf, first, page.ContHeaderSize)
	for _, part := range parts {
		buf := make([]byte, len(part))
		require.NoError(t, bf.ReadMultiPageData(buf, rc))
		assert.Equal(t, part, buf)
	}
	assert.Equal(t, *c, *rc)

	t.Run("skip", func(t *testing.T) {
		sc := firstPageCursor(t, bf, first, page.ContHeaderSize)
		require.NoError(t, bf.SkipMultiPageBytes(len(parts[0])+len(parts[1]), sc))

		buf := make([]byte, len(parts[2]))
		require.NoError(t, bf.ReadMultiPageData(buf, sc))
		assert.Equal(t, parts[2], buf)
	})

	t.Run("rewrite reuses the chain", func(t *testing.T) {
		total := bf.totalPages()
		data := gen.Value(len(parts[0]) + len(parts[1]) + len(parts[2]))
		require.NoError(t, bf.WriteMultiPageData(data, firstPageCursor(t, bf, first, page.ContHeaderSize)))
		assert.Equal(t, total, bf.totalPages())

		buf := make([]byte, len(data))
		require.NoError(t, bf.ReadMultiPageData(buf, firstPageCursor(t, bf, first, page.ContHeaderSize)))
		assert.Equal(t, data, buf)
	})
}

func TestMultiPageData_Corruption(t *testing.T) {
	t.Parallel()

	bf, _ := initTestBlockFile(t)
	first, err := bf.AllocPage()
	require.NoError(t, err)
	data := gen.Value(2 * page.Size)
	require.NoError(t, bf.WriteMultiPageData(data, &page.Cursor{Page: first, Offset: page.ContHeaderSize}))

	t.Run("data longer than the chain", func(t *testing.T) {
		buf := make([]byte, 4*page.Size)
		err := bf.ReadMultiPageData(buf, firstPageCursor(t, bf, first, page.ContHeaderSize))
		require.ErrorIs(t, err, ErrCorrupt)

		err = bf.SkipMultiPageBytes(len(buf), firstPageCursor(t, bf, first, page.ContHeaderSize))
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("bad continuation magic", func(t *testing.T) {
		c := firstPageCursor(t, bf, first, page.ContHeaderSize)
		require.NoError(t, bf.WriteAt([]byte("JUNK"), c.Next, 0))

		buf := make([]byte, len(data))
		err := bf.ReadMultiPageData(buf, firstPageCursor(t, bf, first, page.ContHeaderSize))
		require.ErrorIs(t, err, ErrCorrupt)
		assert.Contains(t, err.Error(), fmt.Sprintf("page %d", c.Next))

		_, err = bf.ChainLength(c.Next)
		require.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestFreeChain(t *testing.T) {
	t.Parallel()

	bf, _ := initTestBlockFile(t)
	first, err := bf.AllocPage()
	require.NoError(t, err)
	require.NoError(t, bf.WriteMultiPageData(gen.Value(3*page.Size), &page.Cursor{Page: first, Offset: page.ContHeaderSize}))

	cont := firstPageCursor(t, bf, first, page.ContHeaderSize).Next
	length, err := bf.ChainLength(cont)
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	freed, err := bf.FreeChain(cont)
	require.NoError(t, err)
	assert.Equal(t, length, freed)

	_, entries := freeListContents(t, bf)
	assert.Len(t, entries, length-1)

	n, err := bf.ChainLength(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
