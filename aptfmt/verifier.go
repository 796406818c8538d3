// Package aptfmt parses and verifies the on-wire formats of an APT
// repository: Release/InRelease manifests, Packages/Sources control-file
// indices, and installer SHA256SUMS listings.
package aptfmt

import (
	"errors"
	"io"

	"github.com/aptly-dev/aptly/pgp"
)

// ErrSignatureVerificationFailed indicates a signature verification failure.
var ErrSignatureVerificationFailed = errors.New("signature verification failed")

// ErrMissingSignature indicates a file is not signed and unsigned input is
// not accepted.
var ErrMissingSignature = errors.New("file is not signed")

// Verifier pairs the aptly pgp.Verifier holding the trusted keys (the
// global key directory, or a repository's pgp_pub_key) with pgp_verify:
// whether verification is mandatory. When it is not, unsigned or
// unverifiable input is accepted.
type Verifier struct {
	pgp.Verifier
	Required bool // pgp_verify=true: reject unsigned or unverifiable input outright
}

// VerifyAndClear verifies and extracts cleartext from a clearsigned
// InRelease file. If the input isn't clearsigned and Required is set, it
// fails; otherwise an unsigned file is returned unmodified (trust on
// first use, the default when no pgp_pub_key is configured).
func (v *Verifier) VerifyAndClear(file io.ReadSeeker) (io.ReadCloser, []pgp.Key, error) {
	isClearSigned, err := v.IsClearSigned(file)
	if err != nil {
		return nil, nil, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return nil, nil, err
	}

	if !isClearSigned {
		if v.Required {
			return nil, nil, ErrMissingSignature
		}
		return io.NopCloser(file), nil, nil
	}

	keyInfo, err := v.VerifyClearsigned(file, false)
	if err != nil {
		if v.Required {
			return nil, nil, ErrSignatureVerificationFailed
		}
		// Verification is optional: extract the cleartext anyway instead
		// of failing parsing over a bad or unverifiable signature.
		if _, err := file.Seek(0, 0); err != nil {
			return nil, nil, err
		}
		rc, err := v.ExtractClearsigned(file)
		return rc, nil, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return nil, nil, err
	}

	rc, err := v.ExtractClearsigned(file)
	return rc, keyInfo.GoodKeys, err
}

// ExtractClear strips a clearsigned wrapper without verifying it — used
// to re-read a Release this process already verified and promoted on a
// prior run, where re-proving the signature buys nothing.
func (v *Verifier) ExtractClear(file io.ReadSeeker) (io.ReadCloser, error) {
	isClearSigned, err := v.IsClearSigned(file)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return nil, err
	}
	if !isClearSigned {
		return io.NopCloser(file), nil
	}
	return v.ExtractClearsigned(file)
}

// VerifyDetached validates a detached Release.gpg signature against the
// Release content it accompanies — the fallback path used whenever a
// repository publishes Release+Release.gpg instead of InRelease.
func (v *Verifier) VerifyDetached(content io.Reader, signature io.ReadSeeker) ([]pgp.Key, error) {
	keyInfo, err := v.VerifyDetachedSignature(signature, content, false)
	if err != nil {
		if v.Required {
			return nil, ErrSignatureVerificationFailed
		}
		return nil, nil
	}
	return keyInfo.GoodKeys, nil
}
