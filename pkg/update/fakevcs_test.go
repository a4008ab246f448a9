package update_test

import (
	"context"
	"fmt"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/vcs"
)

// fakeRelease is one scripted VCS-reported tag: its SHA and the
// dependency/stability facts PopulateRelease should stamp onto a
// PackageVersion.
type fakeRelease struct {
	sha     string
	require map[string]string
}

// fakeRepo is a scripted vcs.Adapter for one repository, keyed by raw
// version string.
type fakeRepo struct {
	releases map[string]fakeRelease
}

func (r *fakeRepo) Versions(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(r.releases))
	for raw, rel := range r.releases {
		out[raw] = rel.sha
	}
	return out, nil
}

func (r *fakeRepo) PopulateRelease(ctx context.Context, release *model.PackageVersion) error {
	rel, ok := r.releases[release.Version]
	if !ok {
		return fmt.Errorf("fakevcs: no such version %s", release.Version)
	}

	normalized, err := semverops.Normalize(release.Version)
	if err != nil {
		return fmt.Errorf("fakevcs: %w: %s", vcs.ErrInvalidVersion, release.Version)
	}
	release.NormalizedVersion = normalized
	release.Stability = semverops.ParseStability(release.Version)

	release.Require = rel.require
	return nil
}

// fakeFactory resolves repository name -> *fakeRepo by Package.Repository.
type fakeFactory struct {
	repos map[string]*fakeRepo
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{repos: make(map[string]*fakeRepo)}
}

func (f *fakeFactory) set(repository string, releases map[string]fakeRelease) {
	f.repos[repository] = &fakeRepo{releases: releases}
}

func (f *fakeFactory) AdapterFor(ctx context.Context, pkg *model.Package) (vcs.Adapter, error) {
	repo, ok := f.repos[pkg.Repository]
	if !ok {
		return nil, fmt.Errorf("fakevcs: no repository registered for %s", pkg.Repository)
	}
	return repo, nil
}
