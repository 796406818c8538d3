package aptfmt

import (
	"strings"
	"testing"

	"github.com/aptly-dev/aptly/pgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_VerifyAndClear_UnsignedAllowed(t *testing.T) {
	v := &Verifier{Verifier: &pgp.GoVerifier{}, Required: false}

	rc, keys, err := v.VerifyAndClear(strings.NewReader("Origin: Debian\nSuite: trixie\n"))
	require.NoError(t, err)
	require.Nil(t, keys)
	defer func() { _ = rc.Close() }()
}

func TestVerifier_VerifyAndClear_UnsignedRejectedWhenRequired(t *testing.T) {
	v := &Verifier{Verifier: &pgp.GoVerifier{}, Required: true}

	_, _, err := v.VerifyAndClear(strings.NewReader("Origin: Debian\n"))
	assert.ErrorIs(t, err, ErrMissingSignature)
}
