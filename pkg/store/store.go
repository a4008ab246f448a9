// Package store defines the persistence contract the registry reconciles
// against. The relational database driver backing a concrete
// implementation is an external collaborator; this package only specifies
// the queries UpdateEngine, ProviderEmitter, and the Registry facade need.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/craftreg/registry/pkg/model"
)

// ErrNotFound is returned when a package or version lookup finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict names a unique-key violation on a concurrent write for the
// same package. Neither memstore nor postgres returns it: both serialize
// same-package ReplaceVersions calls (a mutex, an advisory lock) instead.
var ErrConflict = errors.New("store: conflict")

// Store is the persistence contract for packages, their versions, and the
// dependency edges between them.
type Store interface {
	PackageExists(ctx context.Context, name string) (bool, error)

	// PackageUpdatedWithin reports whether the package was updated (not
	// merely created) within the last d.
	PackageUpdatedWithin(ctx context.Context, name string, d time.Duration) (bool, error)

	GetPackage(ctx context.Context, name string) (*model.Package, error)
	GetPackageByID(ctx context.Context, id int64) (*model.Package, error)

	// SavePackage inserts a new package (ID == 0) or updates an existing
	// one by ID.
	SavePackage(ctx context.Context, pkg *model.Package) error

	// RemovePackage cascades: all of the package's versions and their
	// dependency edges are deleted with it.
	RemovePackage(ctx context.Context, name string) error

	// AllVersions returns raw version strings at or above minStability,
	// optionally sorted ascending by semantic version.
	AllVersions(ctx context.Context, name string, minStability model.Stability, sorted bool) ([]string, error)

	// GetRelease looks up a single stored version by its raw tag.
	GetRelease(ctx context.Context, name, rawVersion string) (*model.PackageVersion, error)

	// GetReleases batches GetRelease. Missing versions are simply absent
	// from the result, not errors.
	GetReleases(ctx context.Context, name string, rawVersions []string) ([]model.PackageVersion, error)

	// VersionsExist reports whether every constraint in constraints is
	// satisfied by at least one stored version of name.
	VersionsExist(ctx context.Context, name string, constraints []string) (bool, error)

	// IsDependencyVersionRequired reports whether any stored
	// DependencyEdge targeting name has a constraint satisfied by
	// version.
	IsDependencyVersionRequired(ctx context.Context, name, version string) (bool, error)

	// ReplaceVersions deletes toDelete (by PackageVersion ID, edges
	// cascade) and inserts toInsert plus edgesToInsert, all in one
	// transaction. Concurrent same-package calls are serialized, so a
	// reader never observes a partial write.
	//
	// The update engine populates one release per call, so toInsert
	// holds one PackageVersion and edgesToInsert holds that release's
	// dependency edges. When toInsert is non-empty, any VersionID the
	// caller set on edgesToInsert is overwritten with the ID assigned to
	// the last element of toInsert; when toInsert is empty, each edge
	// keeps the VersionID the caller set.
	ReplaceVersions(ctx context.Context, packageID int64, toDelete []int64, toInsert []model.PackageVersion, edgesToInsert []model.DependencyEdge) error

	// SetLatest updates Package.latestVersion, and, for a managed package
	// with a mirrored plugins row, that row's latestVersion too.
	// rawVersion must name an extant PackageVersion for packageID, or ""
	// to clear it.
	SetLatest(ctx context.Context, packageID int64, rawVersion string) error

	// Packages snapshot support for ProviderEmitter: every package with a
	// non-null latestVersion, and every stored version/edge for the
	// current state. Implementations backed by a real database should
	// run this under a repeatable-read transaction so a package's
	// versions and edges are mutually consistent.
	PublishedPackages(ctx context.Context) ([]model.Package, error)
	VersionsForEmission(ctx context.Context, packageID int64) ([]model.PackageVersion, error)
	EdgesForVersion(ctx context.Context, versionID int64) ([]model.DependencyEdge, error)
}
