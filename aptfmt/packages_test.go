package aptfmt

import (
	"strings"
	"testing"

	"github.com/mirrorkit/aptmirror/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePackages = `Package: foo
Version: 1.0-1
Architecture: amd64
Filename: pool/main/f/foo/foo_1.0-1_amd64.deb
Size: 1024
MD5sum: d41d8cd98f00b204e9800998ecf8427e
SHA1: da39a3ee5e6b4b0d3255bfef95601890afd80709
SHA256: e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855

Package: bar-dbgsym
Version: 1.0-1
Architecture: amd64
Filename: pool/main/b/bar/bar-dbgsym_1.0-1_amd64.deb
Size: 2048
SHA256: 0000000000000000000000000000000000000000000000000000000000000001
`

func TestParsePackageIndex_Binary(t *testing.T) {
	pkgs, err := ParsePackageIndex(strings.NewReader(samplePackages), false)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	assert.False(t, IsDebugPackage(pkgs[0]))
	assert.True(t, IsDebugPackage(pkgs[1]))

	descriptors, err := Descriptors(pkgs[0])
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "pool/main/f/foo/foo_1.0-1_amd64.deb", descriptors[0].Path)
	assert.Equal(t, int64(1024), descriptors[0].Size)
	assert.Equal(t, common.SHA256, descriptors[0].Algorithm)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", descriptors[0].Digest)
}

func TestParsePackageIndex_EmptyYieldsNoPackages(t *testing.T) {
	pkgs, err := ParsePackageIndex(strings.NewReader(""), false)
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

const sampleSources = `Package: foo
Version: 1.0-1
Directory: pool/main/f/foo
Files:
 d41d8cd98f00b204e9800998ecf8427e 123 foo_1.0-1.dsc
Checksums-Sha256:
 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855 123 foo_1.0-1.dsc
`

func TestParsePackageIndex_Source(t *testing.T) {
	pkgs, err := ParsePackageIndex(strings.NewReader(sampleSources), true)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	descriptors, err := Descriptors(pkgs[0])
	require.NoError(t, err)
	require.NotEmpty(t, descriptors)
}
