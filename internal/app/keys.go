package app

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/aptly-dev/aptly/pgp"
)

// loadSingleKeyVerifier builds a pgp.Verifier trusting only the key at
// path — the scheduler.KeyLoader backing a repository's pgp_pub_key option.
func loadSingleKeyVerifier(path string) (pgp.Verifier, error) {
	keyPath, cleanup, err := prepareKeyFile(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	v := &pgp.GoVerifier{}
	v.AddKeyring(keyPath)
	if err := v.InitKeyring(false); err != nil {
		return nil, err
	}
	return v, nil
}

// prepareKeyFile ensures a key file is in binary format for aptly's
// GoVerifier, which only loads binary keyrings. ASCII-armored .asc/.gpg
// keys (the common distribution format for a repository's signing key)
// are converted to a binary temp file; already-binary files are used as-is.
func prepareKeyFile(keyPath string) (string, func(), error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 5)
	n, _ := f.Read(header)
	isArmored := n == 5 && bytes.Equal(header, []byte("-----"))

	if !isArmored {
		return keyPath, func() {}, nil
	}

	if _, err := f.Seek(0, 0); err != nil {
		return "", nil, err
	}

	keys, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return "", nil, fmt.Errorf("reading armored key %s: %w", keyPath, err)
	}

	tmpFile, err := os.CreateTemp("", "aptmirror-keyring-*.gpg")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp keyring: %w", err)
	}

	for _, entity := range keys {
		if err := entity.Serialize(tmpFile); err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpFile.Name())
			return "", nil, fmt.Errorf("serializing key from %s: %w", keyPath, err)
		}
	}

	tmpName := tmpFile.Name()
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", nil, fmt.Errorf("closing temp keyring: %w", err)
	}

	return tmpName, func() { _ = os.Remove(tmpName) }, nil
}
