// Package semverops implements the version-comparison primitives the
// registry needs to reconcile stored releases against a VCS and to answer
// constraint queries: parsing, normalization, comparison, constraint
// satisfaction, and stability ordering, per Composer's semver rules.
package semverops

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/craftreg/registry/pkg/model"
)

// ErrInvalidVersion is returned when a raw tag cannot be parsed as a
// Composer-compatible version string.
var ErrInvalidVersion = errors.New("semverops: invalid version")

var stabilityPattern = map[string]model.Stability{
	"dev":   model.StabilityDev,
	"alpha": model.StabilityAlpha,
	"a":     model.StabilityAlpha,
	"beta":  model.StabilityBeta,
	"b":     model.StabilityBeta,
	"rc":    model.StabilityRC,
}

// ParseStability derives the Composer stability tier for a raw version
// string. Versions with no prerelease suffix, or a numeric-only suffix,
// are stable; "dev-" prefixed or "-dev" suffixed strings are dev; anything
// else is matched against the alpha/beta/RC prefixes.
func ParseStability(version string) model.Stability {
	v := strings.ToLower(strings.TrimSpace(version))
	if strings.HasPrefix(v, "dev-") || strings.HasSuffix(v, "-dev") || strings.HasSuffix(v, ".x-dev") {
		return model.StabilityDev
	}

	sv, err := parse(version)
	if err != nil {
		return model.StabilityStable
	}

	pre := sv.Prerelease()
	if pre == "" {
		return model.StabilityStable
	}

	pre = strings.ToLower(pre)
	for prefix, stability := range stabilityPattern {
		if strings.HasPrefix(pre, prefix) {
			return stability
		}
	}

	return model.StabilityStable
}

// Normalize returns the canonical form of a raw version tag, e.g.
// "1.2.0-beta.3" -> "1.2.0.0-beta3". The fourth (build/patch-extra)
// segment is always present, matching Composer's normalized form.
func Normalize(version string) (string, error) {
	sv, err := parse(version)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidVersion, version)
	}

	core := fmt.Sprintf("%d.%d.%d.0", sv.Major(), sv.Minor(), sv.Patch())
	pre := sv.Prerelease()
	if pre == "" {
		return core, nil
	}

	return fmt.Sprintf("%s-%s", core, canonicalPrerelease(pre)), nil
}

// canonicalPrerelease collapses "beta.3" / "beta3" / "b3" style suffixes
// down to Composer's compact "beta3" form for the normalized string.
func canonicalPrerelease(pre string) string {
	pre = strings.ReplaceAll(pre, ".", "")
	pre = strings.ReplaceAll(pre, "-", "")
	return strings.ToLower(pre)
}

// Compare returns -1, 0, or +1 as a is less than, equal to, or greater
// than b, per semantic-version ordering (prerelease < release).
func Compare(a, b string) (int, error) {
	sva, err := parse(a)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidVersion, a)
	}
	svb, err := parse(b)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidVersion, b)
	}
	return sva.Compare(svb), nil
}

// Satisfies reports whether version meets the Composer constraint
// expression constraintExpr (e.g. "^1.2 || ^2.0", "~1.4", "*", ">=1.0 <2.0").
func Satisfies(version, constraintExpr string) (bool, error) {
	sv, err := parse(version)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidVersion, version)
	}

	constraintExpr = strings.TrimSpace(constraintExpr)
	if constraintExpr == "" || constraintExpr == "*" {
		return true, nil
	}

	// Composer ORs alternatives with "||"; semver/v3 constraints use the
	// same separator natively, but each alternative may also use
	// Composer's bare "*"/empty-range shorthand which the library doesn't
	// special-case, so alternatives are evaluated independently.
	for _, alt := range strings.Split(constraintExpr, "||") {
		alt = strings.TrimSpace(alt)
		if alt == "" || alt == "*" {
			return true, nil
		}

		c, err := semver.NewConstraint(alt)
		if err != nil {
			return false, fmt.Errorf("%w: constraint %q: %v", ErrInvalidVersion, alt, err)
		}
		if c.Check(sv) {
			return true, nil
		}
	}

	return false, nil
}

// SortAscending sorts raw version strings in place, ascending by semantic
// version. Entries that fail to parse sort last, in their original
// relative order.
func SortAscending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		svi, erri := parse(versions[i])
		svj, errj := parse(versions[j])
		switch {
		case erri != nil && errj != nil:
			return false
		case erri != nil:
			return false
		case errj != nil:
			return true
		default:
			return svi.LessThan(svj)
		}
	})
}

// parse strips Composer's optional leading "v" (unsupported by most
// semver parsers, but widely used as a tag prefix) before delegating to
// Masterminds/semver.
func parse(version string) (*semver.Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(version), "v")
	return semver.NewVersion(trimmed)
}
