// Package semverutil normalizes npm version ranges into concrete query
// versions for registry lookups.
package semverutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Latest is the dist-tag substituted when a range cannot be coerced into
// a concrete version.
const Latest = "latest"

// numbers matches the first contiguous N[.N[.N]] run in a range string,
// the same shape standard semver coercion recognizes.
var numbers = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// Coerce normalizes a version range string into a concrete query version.
//
// A single leading caret or tilde is stripped. If the remainder is already
// a concrete semver version it is returned unchanged (including any
// pre-release suffix). Otherwise the first N[.N[.N]] substring is
// zero-filled into MAJOR.MINOR.PATCH. Ranges with no digits at all (tags,
// wildcards, garbage) coerce to [Latest].
//
// Coerce is pure and total: it never fails.
func Coerce(rng string) string {
	s := strings.TrimSpace(rng)
	if len(s) > 0 && (s[0] == '^' || s[0] == '~') {
		s = s[1:]
	}
	if s == "" {
		return Latest
	}

	if v, err := semver.StrictNewVersion(s); err == nil {
		return v.Original()
	}

	m := numbers.FindStringSubmatch(s)
	if m == nil {
		return Latest
	}
	major, minor, patch := m[1], m[2], m[3]
	if minor == "" {
		minor = "0"
	}
	if patch == "" {
		patch = "0"
	}
	coerced := fmt.Sprintf("%s.%s.%s", major, minor, patch)
	if _, err := semver.StrictNewVersion(coerced); err != nil {
		return Latest
	}
	return coerced
}

// Concrete reports whether s parses as a concrete MAJOR.MINOR.PATCH
// version (pre-release suffixes allowed).
func Concrete(s string) bool {
	_, err := semver.StrictNewVersion(s)
	return err == nil
}
