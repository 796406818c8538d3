package aptfmt

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mirrorkit/aptmirror/internal/common"
)

// ParseSHA256SUMS parses a debian-installer SHA256SUMS listing: one
// "digest  filename" pair per line, filename relative to dir (the
// directory the SHA256SUMS file itself lives in). Size is unset; the
// downloader verifies installer files by digest alone.
func ParseSHA256SUMS(r io.Reader, dir string) ([]FileDescriptor, error) {
	scanner := bufio.NewScanner(r)
	var descriptors []FileDescriptor

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: malformed SHA256SUMS line %q", common.ErrParse, line)
		}
		digest := fields[0]
		filename := strings.Join(fields[1:], " ")
		filename = strings.TrimPrefix(filename, "*")
		if err := common.ValidatePath(filename); err != nil {
			return nil, err
		}

		descriptors = append(descriptors, FileDescriptor{
			Path:      path.Join(dir, filename),
			Digest:    strings.ToLower(digest),
			Algorithm: common.SHA256,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrParse, err)
	}

	return descriptors, nil
}
