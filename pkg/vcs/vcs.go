// Package vcs specifies the contract the registry consumes from a
// version-control backend: enumerate tagged versions and their commit
// SHAs, and populate a PackageVersion's manifest fields by reading that
// commit's composer.json. The concrete backend (GitHub, GitLab, ...) is
// an external collaborator; this package also provides the adapter
// factory and token policy.
package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/craftreg/registry/pkg/model"
)

// ErrMissingToken is returned by the Factory when host policy requires a
// credential for a managed package's adapter and none is registered.
var ErrMissingToken = errors.New("vcs: missing token")

// ErrInvalidVersion marks a VCS-reported tag the semver parser rejected.
// Callers treat this as a per-version skip, not a fatal error for the
// whole update.
var ErrInvalidVersion = errors.New("vcs: invalid version")

// ErrTransient marks a network or rate-limit error. The caller should
// abort the update and let the job queue retry with backoff.
var ErrTransient = errors.New("vcs: transient error")

// Adapter enumerates tagged versions of one repository and populates
// release metadata for them.
type Adapter interface {
	// Versions returns every tag the backend exposes, raw version string
	// to commit SHA.
	Versions(ctx context.Context) (map[string]string, error)

	// PopulateRelease fills release's manifest fields from the backend,
	// typically by reading composer.json at release.SHA. The github and
	// gitlab adapters fill the fields ComposerManifest carries; they
	// leave Dist, Source and Changelog empty.
	// release.PackageID, release.Version, and release.SHA are already
	// set by the caller.
	PopulateRelease(ctx context.Context, release *model.PackageVersion) error
}

// Factory produces an Adapter for a given Package's repository.
type Factory interface {
	AdapterFor(ctx context.Context, pkg *model.Package) (Adapter, error)
}

// TokenSource resolves a credential for a repository URL. Concrete
// factories consult one (or several, for fallback rotation) of these.
type TokenSource interface {
	TokenFor(repository string) (string, bool)
}

// RequireTokenForManaged wraps a Factory, enforcing the host policy that a
// managed package's adapter must present credentials: if pkg.Managed and
// tokens has no entry for pkg.Repository, AdapterFor fails with
// ErrMissingToken before ever constructing the underlying adapter.
func RequireTokenForManaged(inner Factory, tokens TokenSource, enabled bool) Factory {
	if !enabled {
		return inner
	}
	return &tokenGuardedFactory{inner: inner, tokens: tokens}
}

type tokenGuardedFactory struct {
	inner  Factory
	tokens TokenSource
}

func (f *tokenGuardedFactory) AdapterFor(ctx context.Context, pkg *model.Package) (Adapter, error) {
	if pkg.Managed {
		if _, ok := f.tokens.TokenFor(pkg.Repository); !ok {
			return nil, fmt.Errorf("%w: package %s has no credential for %s", ErrMissingToken, pkg.Name, pkg.Repository)
		}
	}
	return f.inner.AdapterFor(ctx, pkg)
}
