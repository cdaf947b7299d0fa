package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfBytesKnownVector(t *testing.T) {
	// SHA-1("abc")
	sum := OfBytes([]byte("abc"))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sum.String())
}

func TestOfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := OfFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sum.String())
}

func TestOfFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := OfFile(dir)
	var dirErr *IsDirectoryError
	assert.ErrorAs(t, err, &dirErr)
}

func TestFromHexRoundTrip(t *testing.T) {
	sum := OfBytes([]byte("hello"))
	decoded := FromHex(sum.String())
	assert.True(t, sum.Equal(decoded))
}

func TestFromHexMalformedReturnsZero(t *testing.T) {
	assert.True(t, FromHex("not-hex").IsZero())
	assert.True(t, FromHex("deadbeef").IsZero())
}

func TestEqual(t *testing.T) {
	a := OfBytes([]byte("a"))
	b := OfBytes([]byte("b"))
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a))
}
