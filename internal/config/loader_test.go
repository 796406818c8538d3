package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.list")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeList(t, `# comment
deb http://deb.debian.org/debian trixie main contrib

deb [arch=arm64] http://deb.debian.org/debian trixie-updates main
`)

	repos, err := Load(path)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "trixie", repos[0].Suite)
	assert.Equal(t, []string{"arm64"}, repos[1].Architectures)
}

func TestLoad_EmptyFileErrors(t *testing.T) {
	path := writeList(t, "# only comments\n\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MalformedLineReportsLineNumber(t *testing.T) {
	path := writeList(t, "deb http://deb.debian.org/debian trixie main\ndeb-src bogus\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.list"))
	assert.Error(t, err)
}
