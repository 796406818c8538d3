package aptfmt

import (
	"fmt"
	"io"

	"github.com/aptly-dev/aptly/deb"
	"github.com/mirrorkit/aptmirror/internal/common"
)

// FileDescriptor is the file tuple every index parser yields: a path
// relative to the repository root, its size, and the strongest digest
// the index recorded for it. Packages/Sources entries carry their
// Filename/Directory value directly; installer SHA256SUMS entries carry
// a path already prefixed with dists/<suite>/… by the caller.
type FileDescriptor struct {
	Path      string
	Size      int64
	Digest    string
	Algorithm common.Algorithm
}

const debugPackageSuffix = "-dbgsym"

// ParsePackageIndex parses a Packages (isSource=false) or Sources
// (isSource=true) index into its stanzas. The scheduler asks each
// returned package for its file descriptors via Descriptors.
func ParsePackageIndex(r io.Reader, isSource bool) ([]*deb.Package, error) {
	controlReader := deb.NewControlFileReader(r, false, false)

	var packages []*deb.Package
	for {
		stanza, err := controlReader.ReadStanza()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", common.ErrParse, err)
		}
		if stanza == nil {
			break
		}

		var pkg *deb.Package
		if isSource {
			pkg, err = deb.NewSourcePackageFromControlFile(stanza)
			if err != nil {
				return nil, fmt.Errorf("%w: source stanza: %s", common.ErrParse, err)
			}
		} else {
			pkg = deb.NewPackageFromControlFile(stanza)
		}
		packages = append(packages, pkg)
	}

	return packages, nil
}

// Descriptors returns one file descriptor per file a package/source
// stanza references (a binary package names one, a source package
// several: .dsc, .orig.tar.*, .debian.tar.*), each carrying the
// strongest digest the stanza recorded for it.
func Descriptors(pkg *deb.Package) ([]FileDescriptor, error) {
	files := pkg.Files()
	descriptors := make([]FileDescriptor, 0, len(files))
	for _, file := range files {
		algo, digest, ok := common.StrongestAvailable(file.Checksums)
		if !ok {
			return nil, fmt.Errorf("%w: %s: no recognized digest", common.ErrParse, file.DownloadURL())
		}
		if err := common.ValidatePath(file.DownloadURL()); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, FileDescriptor{
			Path:      file.DownloadURL(),
			Size:      file.Checksums.Size,
			Digest:    digest,
			Algorithm: algo,
		})
	}
	return descriptors, nil
}

// IsDebugPackage reports whether pkg is a detached-debug-symbols
// package (its name ends in "-dbgsym"). The scheduler does not call it;
// debug packages are fetched like any other entry of their index.
func IsDebugPackage(pkg *deb.Package) bool {
	name := pkg.Name
	return len(name) > len(debugPackageSuffix) && name[len(name)-len(debugPackageSuffix):] == debugPackageSuffix
}
