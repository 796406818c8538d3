package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// CompressionFormat identifies one of the metadata encodings an index file
// may be published under.
type CompressionFormat string

const (
	CompressionNone  CompressionFormat = ""
	CompressionXZ    CompressionFormat = "xz"
	CompressionBzip2 CompressionFormat = "bz2"
	CompressionGzip  CompressionFormat = "gz"
)

// PreferenceOrder lists compression formats from most to least preferred.
// A Release lists the same logical index under several suffixes; the
// scheduler always fetches the most compact one it can decode.
var PreferenceOrder = []CompressionFormat{CompressionXZ, CompressionBzip2, CompressionGzip, CompressionNone}

// Extension returns the filename suffix for the format, including the dot.
// CompressionNone has no suffix.
func (f CompressionFormat) Extension() string {
	if f == CompressionNone {
		return ""
	}
	return "." + string(f)
}

// DetectCompressionFormat returns the compression format implied by a
// filename's extension.
func DetectCompressionFormat(filename string) CompressionFormat {
	switch filepath.Ext(filename) {
	case ".gz":
		return CompressionGzip
	case ".bz2":
		return CompressionBzip2
	case ".xz":
		return CompressionXZ
	default:
		return CompressionNone
	}
}

// Decompressor wraps compressed readers with the decoder matching their
// format. It holds no state of its own: decoding runs inline on the
// downloader's copy goroutine, since the expensive part of fetching an
// index is the round-trip, not inflating a few hundred kilobytes of gzip.
type Decompressor struct{}

// NewDecompressor returns a stateless Decompressor.
func NewDecompressor() *Decompressor {
	return &Decompressor{}
}

// Reader wraps r with the decoder for format. For CompressionNone it
// returns r unchanged. The caller remains responsible for closing the
// underlying source once the returned reader is drained.
func (d *Decompressor) Reader(format CompressionFormat, r io.Reader) (io.Reader, error) {
	switch format {
	case CompressionNone:
		return r, nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionBzip2:
		return bzip2.NewReader(r, nil)
	case CompressionXZ:
		return xz.NewReader(r)
	default:
		return nil, fmt.Errorf("common: unsupported decompression format %q", format)
	}
}
