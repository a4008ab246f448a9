// Package registry is the read-only query surface: it answers lookups
// directly from Store and SemverOps, with no VCS or write-path
// involvement.
package registry

import (
	"context"
	"fmt"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/store"
)

// Registry is the facade the front-end and CLI query against.
type Registry struct {
	store store.Store
}

// New builds a Registry over st.
func New(st store.Store) *Registry {
	return &Registry{store: st}
}

// GetPackage returns the named package's metadata.
func (r *Registry) GetPackage(ctx context.Context, name string) (*model.Package, error) {
	return r.store.GetPackage(ctx, name)
}

// ListVersions returns name's stored raw version strings at or above
// minStability, sorted ascending.
func (r *Registry) ListVersions(ctx context.Context, name string, minStability model.Stability) ([]string, error) {
	return r.store.AllVersions(ctx, name, minStability, true)
}

// GetLatestVersion returns the newest stored version of name at or
// above minStability, independent of whether it was among the most
// recently processed batch (that distinction only applies to
// UpdateEngine's latestVersion bookkeeping, not to this read query).
func (r *Registry) GetLatestVersion(ctx context.Context, name string, minStability model.Stability) (string, error) {
	versions, err := r.store.AllVersions(ctx, name, minStability, true)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("registry: %s: %w", name, store.ErrNotFound)
	}
	return versions[len(versions)-1], nil
}

// GetRelease looks up a single stored version by its raw tag.
func (r *Registry) GetRelease(ctx context.Context, name, rawVersion string) (*model.PackageVersion, error) {
	return r.store.GetRelease(ctx, name, rawVersion)
}

// Satisfies reports whether name has at least one stored version
// matching constraintExpr.
func (r *Registry) Satisfies(ctx context.Context, name, constraintExpr string) (bool, error) {
	return r.store.VersionsExist(ctx, name, []string{constraintExpr})
}

// CompareVersions exposes SemverOps.Compare for callers that already
// hold two raw version strings and don't need a Store round-trip.
func (r *Registry) CompareVersions(a, b string) (int, error) {
	return semverops.Compare(a, b)
}
