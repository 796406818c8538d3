package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_Minimal(t *testing.T) {
	repo, err := parseLine("deb http://deb.debian.org/debian trixie main contrib")
	require.NoError(t, err)

	assert.Equal(t, "http://deb.debian.org/debian", repo.BaseURL)
	assert.Equal(t, "trixie", repo.Suite)
	assert.Equal(t, []string{"main", "contrib"}, repo.Components)
	assert.Equal(t, []string{DefaultArchitecture}, repo.Architectures)
	assert.False(t, repo.PGPVerify)
}

func TestParseLine_TrailingSlashTrimmed(t *testing.T) {
	repo, err := parseLine("deb http://deb.debian.org/debian/ trixie main")
	require.NoError(t, err)
	assert.Equal(t, "http://deb.debian.org/debian", repo.BaseURL)
}

func TestParseLine_Options(t *testing.T) {
	repo, err := parseLine("deb [arch=amd64 arch=arm64 udeb=true pgp_verify=true] http://deb.debian.org/debian trixie main")
	require.NoError(t, err)

	assert.Equal(t, []string{"amd64", "arm64"}, repo.Architectures)
	assert.True(t, repo.Udeb)
	assert.True(t, repo.PGPVerify)
}

func TestParseLine_CommaSeparatedOptions(t *testing.T) {
	repo, err := parseLine("deb [arch=amd64,arm64] http://deb.debian.org/debian trixie main")
	require.NoError(t, err)
	assert.Equal(t, []string{"amd64", "arm64"}, repo.Architectures)
}

func TestParseLine_PGPPubKeyImpliesVerify(t *testing.T) {
	repo, err := parseLine("deb [pgp_pub_key=/etc/apt/trusted.gpg.d/debian.asc] http://deb.debian.org/debian trixie main")
	require.NoError(t, err)
	assert.True(t, repo.PGPVerify)
	assert.Equal(t, "/etc/apt/trusted.gpg.d/debian.asc", repo.PGPPubKey)
}

func TestParseLine_DiArch(t *testing.T) {
	repo, err := parseLine("deb [di_arch=amd64] http://deb.debian.org/debian trixie main")
	require.NoError(t, err)
	assert.Equal(t, []string{"amd64"}, repo.DiArchitectures)
}

func TestParseLine_NotDeb(t *testing.T) {
	_, err := parseLine("deb-src http://deb.debian.org/debian trixie main")
	assert.Error(t, err)
}

func TestParseLine_TooFewFields(t *testing.T) {
	_, err := parseLine("deb http://deb.debian.org/debian trixie")
	assert.Error(t, err)
}

func TestParseLine_UnterminatedOptionBlock(t *testing.T) {
	_, err := parseLine("deb [arch=amd64 http://deb.debian.org/debian trixie main")
	assert.Error(t, err)
}

func TestParseLine_UnrecognizedOption(t *testing.T) {
	_, err := parseLine("deb [bogus=1] http://deb.debian.org/debian trixie main")
	assert.Error(t, err)
}
