package blockfile

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/blockfile/pkg/serial"
)

var gen = gofakeit.New(uint64(time.Now().Unix()))

func testConnStr(t *testing.T, params string) string {
	t.Helper()

	connStr := filepath.Join(t.TempDir(), "test.blk")
	if params != "" {
		connStr += "?" + params
	}
	return connStr
}

func TestOpen(t *testing.T) {
	t.Parallel()

	connStr := testConnStr(t, "span_size=8&log_level=error")
	bf, err := Open(connStr)
	require.NoError(t, err)
	assert.Equal(t, 8, bf.SpanSize())
	assert.False(t, bf.WasMounted())

	users, err := MakeIndex(bf, "users", serial.String, serial.String)
	require.NoError(t, err)

	expected := make(map[string]string)
	for len(expected) < 100 {
		expected[gen.Email()] = gen.Name()
	}
	for email, name := range expected {
		_, _, err := users.Put(email, name)
		require.NoError(t, err)
	}
	require.NoError(t, bf.Close())

	// Read only handles see the data but cannot change it.
	bf, err = Open(connStr + "&read_only=true")
	require.NoError(t, err)
	assert.False(t, bf.Writable())

	users, err = GetIndex(bf, "users", serial.String, serial.String)
	require.NoError(t, err)
	assert.Equal(t, len(expected), users.Len())
	for email, name := range expected {
		got, ok, err := users.Get(email)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, name, got)
	}

	_, _, err = users.Put("new@example.com", "New")
	require.ErrorIs(t, err, ErrReadOnly)
	require.NoError(t, bf.Close())
}

func TestOpen_InvalidConnectionString(t *testing.T) {
	t.Parallel()

	_, err := Open(testConnStr(t, "span_size=0"))
	require.Error(t, err)
}

func TestOpen_CheckOnDirty(t *testing.T) {
	t.Parallel()

	connStr := testConnStr(t, "span_size=4&log_level=error")
	crashed, err := Open(connStr)
	require.NoError(t, err)
	defer crashed.Close()

	idx, err := MakeIndex(crashed, "events", serial.Int64, serial.String)
	require.NoError(t, err)
	for i := range 50 {
		_, _, err := idx.Put(int64(i), fmt.Sprintf("event %d", i))
		require.NoError(t, err)
	}

	t.Run("check disabled", func(t *testing.T) {
		bf, err := Open(connStr + "&check_on_dirty=false&read_only=true")
		require.NoError(t, err)
		defer bf.Close()
		assert.True(t, bf.WasMounted())

		modified, err := bf.Check(false)
		require.NoError(t, err)
		assert.False(t, modified)

		stale, err := GetIndex(bf, "events", serial.Int64, serial.String)
		require.NoError(t, err)
		assert.Equal(t, 0, stale.Len())
	})

	t.Run("check enabled", func(t *testing.T) {
		bf, err := Open(connStr)
		require.NoError(t, err)
		assert.True(t, bf.WasMounted())

		repaired, err := GetIndex(bf, "events", serial.Int64, serial.String)
		require.NoError(t, err)
		assert.Equal(t, 50, repaired.Len())

		it := repaired.Iterator()
		var want int64
		for it.Next() {
			assert.Equal(t, want, it.Key())
			assert.Equal(t, fmt.Sprintf("event %d", want), it.Value())
			want++
		}
		require.NoError(t, it.Err())

		modified, err := bf.Check(true)
		require.NoError(t, err)
		assert.False(t, modified)
		require.NoError(t, bf.Close())
	})
}

func TestReformatIndex(t *testing.T) {
	t.Parallel()

	bf, err := Open(testConnStr(t, "log_level=error"))
	require.NoError(t, err)
	defer bf.Close()

	docs, err := MakeIndex(bf, "docs", serial.String, serial.Bytes)
	require.NoError(t, err)
	_, _, err = docs.Put("readme", []byte(strings.Repeat(gen.Word()+" ", 40)))
	require.NoError(t, err)
	require.NoError(t, bf.CloseIndex("docs"))

	compressed := serial.LZ4(serial.Bytes)
	require.NoError(t, ReformatIndex(bf, "docs", serial.String, serial.Bytes, serial.String, compressed))

	docs, err = GetIndex(bf, "docs", serial.String, compressed)
	require.NoError(t, err)
	_, ok, err := docs.Get("readme")
	require.NoError(t, err)
	assert.True(t, ok)
}
