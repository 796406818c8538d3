package common

import (
	"testing"

	"github.com/aptly-dev/aptly/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddAndLookup(t *testing.T) {
	r := NewRegistry()

	conflict := r.Add("/mirror/pool/a/foo.deb", utils.ChecksumInfo{Size: 10, SHA256: "abc"})
	require.False(t, conflict)

	got, ok := r.Lookup("/mirror/pool/a/foo.deb")
	require.True(t, ok)
	assert.Equal(t, int64(10), got.Size)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Add_SameDigestTwiceNoConflict(t *testing.T) {
	r := NewRegistry()
	r.Add("/mirror/pool/a/foo.deb", utils.ChecksumInfo{Size: 10, SHA256: "abc"})
	conflict := r.Add("/mirror/pool/a/foo.deb", utils.ChecksumInfo{Size: 10, SHA256: "abc"})
	assert.False(t, conflict)
}

func TestRegistry_Add_ConflictingDigest(t *testing.T) {
	r := NewRegistry()
	r.Add("/mirror/pool/a/foo.deb", utils.ChecksumInfo{Size: 10, SHA256: "abc"})
	conflict := r.Add("/mirror/pool/a/foo.deb", utils.ChecksumInfo{Size: 10, SHA256: "def"})
	assert.True(t, conflict)
}

func TestRegistry_Contains(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Contains("/mirror/pool/a/foo.deb"))
	r.Add("/mirror/pool/a/foo.deb", utils.ChecksumInfo{Size: 1, MD5: "x"})
	assert.True(t, r.Contains("/mirror/pool/a/foo.deb"))
}

func TestRegistry_Paths(t *testing.T) {
	r := NewRegistry()
	r.Add("/a", utils.ChecksumInfo{Size: 1, MD5: "x"})
	r.Add("/b", utils.ChecksumInfo{Size: 2, MD5: "y"})
	assert.ElementsMatch(t, []string{"/a", "/b"}, r.Paths())
}
