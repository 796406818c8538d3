package common

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/aptly-dev/aptly/utils"
)

// Algorithm identifies a supported digest algorithm. Values match the
// field names aptly's utils.ChecksumInfo uses (MD5, SHA1, SHA256, SHA512),
// so a Release file table and an Algorithm both speak the same vocabulary.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

// StrongestAvailable returns the strongest algorithm among the non-empty
// digests recorded on a utils.ChecksumInfo. Returns ("", "", false) if none
// are set. Every file descriptor in this module — Release file tables,
// Packages/Sources entries, SHA256SUMS entries — is carried as a
// utils.ChecksumInfo, so this one function is the sole "which algorithm do
// we trust" decision point.
func StrongestAvailable(c utils.ChecksumInfo) (Algorithm, string, bool) {
	candidates := []struct {
		algo   Algorithm
		digest string
	}{
		{SHA512, c.SHA512},
		{SHA256, c.SHA256},
		{SHA1, c.SHA1},
		{MD5, c.MD5},
	}
	for _, cand := range candidates {
		if cand.digest != "" {
			return cand.algo, cand.digest, true
		}
	}
	return "", "", false
}

// Digester is an incremental hash accumulator over a single byte stream.
// It is the "digest sink" of spec.md §2 item 1: callers feed it chunks via
// Write (so it composes with io.TeeReader / io.MultiWriter) and call Sum
// once the stream is exhausted.
type Digester struct {
	algo Algorithm
	h    hash.Hash
	size int64
}

// NewDigester creates a Digester for the given algorithm. Panics on an
// unrecognized algorithm since that indicates a programming error (the
// algorithm always originates from a closed enum parsed earlier).
func NewDigester(algo Algorithm) *Digester {
	h, err := HashFor(algo)
	if err != nil {
		panic(err)
	}
	return &Digester{algo: algo, h: h}
}

// HashFor returns a fresh hash.Hash for algo. Used directly (rather than
// through a Digester) wherever a caller needs a plain hash.Hash, such as
// grab.Request.SetChecksum.
func HashFor(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("common: unsupported digest algorithm %q", algo)
	}
}

// Write feeds bytes into the digest. Implements io.Writer so a Digester can
// sit behind io.TeeReader or inside io.MultiWriter without adapters.
func (d *Digester) Write(p []byte) (int, error) {
	n, err := d.h.Write(p)
	d.size += int64(n)
	return n, err
}

// Sum returns the finalized digest as lowercase hex, matching the encoding
// a Release file table and Packages/Sources index use on the wire.
func (d *Digester) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (d *Digester) Size() int64 {
	return d.size
}

// Algorithm returns the algorithm this digester was constructed with.
func (d *Digester) Algorithm() Algorithm {
	return d.algo
}

// ParseAlgorithm maps a Release stanza field name (MD5Sum, SHA1, SHA256,
// SHA512) or a lowercase index field (md5sum, sha1, sha256) to an Algorithm.
func ParseAlgorithm(field string) (Algorithm, bool) {
	switch strings.TrimSuffix(strings.ToLower(field), "sum") {
	case "md5":
		return MD5, true
	case "sha1":
		return SHA1, true
	case "sha256":
		return SHA256, true
	case "sha512":
		return SHA512, true
	default:
		return "", false
	}
}

// EqualFold reports whether two hex digests are equal, ignoring case —
// upstream servers and Go's hex encoders are not always consistent about
// case, and the comparison must not be case-sensitive.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// MergeChecksum folds a single (algorithm, digest) pair recorded under one
// Release section into an accumulating utils.ChecksumInfo for a path,
// returning an error if the size already recorded for that path under a
// different algorithm disagrees with size. A Release's MD5Sum, SHA1,
// SHA256 and SHA512 sections each list the same file independently; they
// must agree on size since they describe the same bytes.
func MergeChecksum(into *utils.ChecksumInfo, algo Algorithm, digest string, size int64) error {
	if into.Size != 0 && into.Size != size {
		return fmt.Errorf("common: conflicting size for path (%d vs %d) across digest sections", into.Size, size)
	}
	into.Size = size
	switch algo {
	case MD5:
		into.MD5 = digest
	case SHA1:
		into.SHA1 = digest
	case SHA256:
		into.SHA256 = digest
	case SHA512:
		into.SHA512 = digest
	default:
		return fmt.Errorf("common: unsupported digest algorithm %q", algo)
	}
	return nil
}
