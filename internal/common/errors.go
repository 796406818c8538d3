package common

import "errors"

// Sentinel errors for the failure kinds spec.md §7 distinguishes. Every
// site that returns one of these wraps it with fmt.Errorf and %w, so
// errors.Is still matches while the message carries the failing path or
// detail.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureMissing = errors.New("signature missing")
	ErrParse            = errors.New("parse error")
	ErrNotFound         = errors.New("remote file not found")
)
