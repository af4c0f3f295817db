// Package versions provides version comparison and build information for the facet server.
package versions

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare orders two version strings. It returns -1, 0 or 1.
// Valid semantic versions are compared by precedence; any value that fails to
// parse sorts after every valid version and falls back to lexicographic order
// among other invalid values.
func Compare(a, b string) int {
	av, errA := semver.NewVersion(a)
	bv, errB := semver.NewVersion(b)

	switch {
	case errA == nil && errB == nil:
		return av.Compare(bv)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
