package aptfmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRelease = `Origin: Debian
Label: Debian
Suite: trixie
Codename: trixie
Date: Mon, 27 Jan 2025 10:00:00 UTC
Architectures: amd64 arm64
Components: main contrib
MD5Sum:
 d41d8cd98f00b204e9800998ecf8427e 0 main/binary-amd64/Packages
SHA256:
 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855 0 main/binary-amd64/Packages
`

func TestParseRelease(t *testing.T) {
	rel, err := ParseRelease(strings.NewReader(sampleRelease))
	require.NoError(t, err)

	assert.Equal(t, "trixie", rel.Suite)
	assert.Equal(t, []string{"amd64", "arm64"}, rel.Architectures)
	assert.Equal(t, []string{"main", "contrib"}, rel.Components)

	entry, ok := rel.Files["main/binary-amd64/Packages"]
	require.True(t, ok)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", entry.MD5)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", entry.SHA256)
}

func TestParseRelease_MissingDigestSection(t *testing.T) {
	_, err := ParseRelease(strings.NewReader("Origin: Debian\nSuite: trixie\n"))
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	a, err := ParseRelease(strings.NewReader(sampleRelease))
	require.NoError(t, err)

	assert.True(t, Diff(nil, a, false), "no prior release always needs work")
	assert.True(t, Diff(a, a, true), "force always needs work")
	assert.False(t, Diff(a, a, false), "identical releases need no work")

	changed, err := ParseRelease(strings.NewReader(strings.Replace(sampleRelease,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"0000000000000000000000000000000000000000000000000000000000000000", 1)))
	require.NoError(t, err)
	assert.True(t, Diff(a, changed, false), "changed digest needs work")
}
