package common

import (
	"fmt"
	"strings"
)

// ValidatePath rejects anything that isn't a repository-relative POSIX
// path with no ".." components: an absolute path, an empty path, or any
// path containing a ".." segment. Every path named by a Release, Packages,
// Sources, or SHA256SUMS entry must pass this before it's joined into a
// staging or final filesystem path — otherwise a compromised or malicious
// upstream manifest could write outside the mirror root.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrParse)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: absolute path %q", ErrParse, p)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: path %q contains a .. component", ErrParse, p)
		}
	}
	return nil
}
