// Package model holds the persisted shapes the registry reconciles and
// republishes: packages, their tagged versions, and the dependency edges
// between them.
package model

import (
	"encoding/json"
	"time"
)

// Stability mirrors Composer's five release-stability tiers, ordered
// low to high.
type Stability string

const (
	StabilityDev    Stability = "dev"
	StabilityAlpha  Stability = "alpha"
	StabilityBeta   Stability = "beta"
	StabilityRC     Stability = "RC"
	StabilityStable Stability = "stable"
)

// rank returns the stability's position in the dev < alpha < beta < RC <
// stable ordering. Unknown values rank below dev so they never pass a
// minimum-stability filter by accident.
func (s Stability) rank() int {
	switch s {
	case StabilityDev:
		return 0
	case StabilityAlpha:
		return 1
	case StabilityBeta:
		return 2
	case StabilityRC:
		return 3
	case StabilityStable:
		return 4
	default:
		return -1
	}
}

// Admits reports whether a version at stability s passes a minimum
// stability filter of min (s.rank() >= min.rank()).
func (s Stability) Admits(min Stability) bool {
	return s.rank() >= min.rank()
}

// RawJSON wraps an optional, structurally unknown Composer manifest field
// (extra, autoload, support, ...) so it round-trips through storage without
// the registry needing to understand its shape. A nil/empty RawJSON
// marshals to JSON null; ProviderEmitter omits such a field or emits
// its default ([] for authors, null for dist).
type RawJSON struct {
	data json.RawMessage
}

// NewRawJSON wraps an already-encoded JSON value.
func NewRawJSON(data []byte) RawJSON {
	if len(data) == 0 {
		return RawJSON{}
	}
	return RawJSON{data: json.RawMessage(data)}
}

// IsEmpty reports whether the wrapper carries no data.
func (r RawJSON) IsEmpty() bool {
	return len(r.data) == 0 || string(r.data) == "null"
}

// Bytes returns the raw encoded JSON, or nil if empty.
func (r RawJSON) Bytes() []byte {
	if r.IsEmpty() {
		return nil
	}
	return r.data
}

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if r.IsEmpty() {
		return []byte("null"), nil
	}
	return r.data, nil
}

func (r *RawJSON) UnmarshalJSON(b []byte) error {
	r.data = append(json.RawMessage(nil), b...)
	return nil
}

// Value implements database/sql/driver.Valuer so RawJSON can be stored
// directly in a jsonb/text column.
func (r RawJSON) Value() (interface{}, error) {
	if r.IsEmpty() {
		return nil, nil
	}
	return string(r.data), nil
}

// Scan implements database/sql.Scanner.
func (r *RawJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		r.data = nil
		return nil
	case []byte:
		r.data = append(json.RawMessage(nil), v...)
		return nil
	case string:
		r.data = json.RawMessage(v)
		return nil
	default:
		return nil
	}
}

// Package is one row per unique Composer name (vendor/name).
type Package struct {
	ID                 int64
	Name               string
	Type               string
	Repository         string // empty means null
	Managed            bool
	Abandoned          bool
	ReplacementPackage string // empty means null
	LatestVersion      string // empty means null
	DateCreated        time.Time
	DateUpdated        time.Time
}

// PackageVersion is one row per (package, version string).
type PackageVersion struct {
	ID                int64
	PackageID         int64
	Version           string // raw tag, e.g. "1.2.0-beta.3"
	NormalizedVersion string
	Stability         Stability
	SHA               string

	Description   string
	Keywords      []string
	Homepage      string
	Time          time.Time
	License       []string
	Authors       RawJSON
	Support       RawJSON
	Conflict      RawJSON
	Replace       RawJSON
	Provide       RawJSON
	Suggest       RawJSON
	Autoload      RawJSON
	IncludePaths  RawJSON
	TargetDir     string
	Extra         RawJSON
	Binaries      []string
	Source        RawJSON
	Dist          RawJSON
	Changelog     RawJSON

	// Require is the manifest's production dependency map (name ->
	// constraint expression), read by the update engine to build
	// DependencyEdge rows. It is not a persisted column: the postgres
	// store neither writes nor reads it, while memstore keeps it only
	// because it stores the struct as given.
	Require map[string]string
}

// DependencyEdge is one row per (versionId, depName, constraint).
type DependencyEdge struct {
	ID          int64
	PackageID   int64
	VersionID   int64
	Name        string
	Constraints string
}

// Platform-style dependency names are recorded as edges but never create
// Packages: the PHP runtime itself, extensions, libraries, the composer
// plugin API, the synthetic root package, and asset-repository packages
// pulled in via bower/npm bridges.
const rootSentinel = "__root__"

// IsPlatformOrAsset reports whether depName is one of the sentinel/platform
// targets that DependencyEdge may reference without ever becoming a Package.
func IsPlatformOrAsset(depName string) bool {
	if depName == "php" || depName == "composer-plugin-api" || depName == rootSentinel {
		return true
	}
	for _, prefix := range []string{"ext-", "lib-", "bower-asset/", "npm-asset/"} {
		if hasPrefix(depName, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
