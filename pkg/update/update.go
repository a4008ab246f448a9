// Package update implements the reconciliation engine: for one named
// package, diff stored releases against what the VCS backend reports,
// write the delta, and cascade updates onto newly-discovered
// dependencies. This is the core of the registry.
package update

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/queue"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/store"
	"github.com/craftreg/registry/pkg/vcs"
)

// Engine reconciles one package's stored releases against its VCS
// backend. It holds no per-call state: everything it needs travels
// through UpdatePackage's arguments, and every mutation commits to
// Store before the call returns.
type Engine struct {
	store store.Store
	vcs   vcs.Factory
	queue queue.Queue
	log   *logrus.Entry

	// locks maps a package name to the *sync.Mutex that keeps two
	// UpdatePackage calls for the same package from running at once.
	locks sync.Map
}

// New builds an Engine.
func New(st store.Store, vcsFactory vcs.Factory, q queue.Queue, log *logrus.Entry) *Engine {
	return &Engine{store: st, vcs: vcsFactory, queue: q, log: log}
}

// UpdatePackage reconciles the named package's stored releases against
// its VCS backend. force re-populates every version even when its SHA
// did not change.
func (e *Engine) UpdatePackage(ctx context.Context, name string, force bool) error {
	log := e.log.WithField("package", name)

	lock, _ := e.locks.LoadOrStore(name, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	pkg, err := e.store.GetPackage(ctx, name)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}

	adapter, err := e.vcs.AdapterFor(ctx, pkg)
	if err != nil {
		if errors.Is(err, vcs.ErrMissingToken) {
			log.WithError(err).Warn("missing vcs credential, abandoning update")
			return err
		}
		return fmt.Errorf("update %s: adapter: %w", name, err)
	}

	storedSHAs, err := e.storedSHAs(ctx, name)
	if err != nil {
		return err
	}

	vcsVersions, err := adapter.Versions(ctx)
	if err != nil {
		if errors.Is(err, vcs.ErrTransient) {
			log.WithError(err).Warn("transient vcs error, update aborted")
		}
		return err
	}

	candidates := e.filterCandidates(ctx, pkg, vcsVersions)

	deleted, changed, newVersions := diffVersionSets(storedSHAs, candidates, force)

	toDeleteIDs := make([]int64, 0, len(deleted)+len(changed))
	for _, raw := range deleted {
		toDeleteIDs = append(toDeleteIDs, storedSHAs[raw].id)
	}
	for _, raw := range changed {
		toDeleteIDs = append(toDeleteIDs, storedSHAs[raw].id)
		newVersions = append(newVersions, raw)
	}

	if len(toDeleteIDs) > 0 {
		if err := e.store.ReplaceVersions(ctx, pkg.ID, toDeleteIDs, nil, nil); err != nil {
			return fmt.Errorf("update %s: delete stale versions: %w", name, err)
		}
	}

	if len(newVersions) == 0 {
		log.Debug("no new or changed versions")
		return nil
	}

	sortNewestFirst(newVersions)

	depConstraints := make(map[string]map[string]bool)
	var latest string
	var latestIsStable bool

	for _, raw := range newVersions {
		release := &model.PackageVersion{
			PackageID: pkg.ID,
			Version:   raw,
			SHA:       candidates[raw],
		}

		if err := adapter.PopulateRelease(ctx, release); err != nil {
			if errors.Is(err, vcs.ErrInvalidVersion) {
				log.WithField("version", raw).WithError(err).Warn("skipping invalid version")
				continue
			}
			return fmt.Errorf("update %s@%s: %w", name, raw, err)
		}

		edges := edgesFromRequire(release.Require)

		if err := e.store.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{*release}, edges); err != nil {
			return fmt.Errorf("update %s@%s: store: %w", name, raw, err)
		}

		if latest == "" {
			latest = raw
			latestIsStable = release.Stability == model.StabilityStable
		} else if !latestIsStable && release.Stability == model.StabilityStable {
			latest = raw
			latestIsStable = true
		}

		for _, edge := range edges {
			if depConstraints[edge.Name] == nil {
				depConstraints[edge.Name] = make(map[string]bool)
			}
			depConstraints[edge.Name][edge.Constraints] = true
		}
	}

	if err := e.store.SetLatest(ctx, pkg.ID, latest); err != nil {
		return fmt.Errorf("update %s: set latest: %w", name, err)
	}

	return e.cascade(ctx, depConstraints)
}

type versionSHA struct {
	id  int64
	sha string
}

func (e *Engine) storedSHAs(ctx context.Context, name string) (map[string]versionSHA, error) {
	raws, err := e.store.AllVersions(ctx, name, model.StabilityDev, false)
	if err != nil {
		return nil, fmt.Errorf("update %s: list stored versions: %w", name, err)
	}

	releases, err := e.store.GetReleases(ctx, name, raws)
	if err != nil {
		return nil, fmt.Errorf("update %s: load stored versions: %w", name, err)
	}

	out := make(map[string]versionSHA, len(releases))
	for _, r := range releases {
		out[r.Version] = versionSHA{id: r.ID, sha: r.SHA}
	}
	return out, nil
}

// filterCandidates rejects dev stability always; for non-managed
// (transitive) packages, it also rejects any version no stored
// DependencyEdge currently requires.
func (e *Engine) filterCandidates(ctx context.Context, pkg *model.Package, vcsVersions map[string]string) map[string]string {
	out := make(map[string]string, len(vcsVersions))
	for raw, sha := range vcsVersions {
		if semverops.ParseStability(raw) == model.StabilityDev {
			continue
		}
		if !pkg.Managed {
			required, err := e.store.IsDependencyVersionRequired(ctx, pkg.Name, raw)
			if err != nil || !required {
				continue
			}
		}
		out[raw] = sha
	}
	return out
}

// diffVersionSets computes deleted/changed/new over raw version
// strings.
func diffVersionSets(stored map[string]versionSHA, candidates map[string]string, force bool) (deleted, changed, newOnes []string) {
	for raw := range stored {
		if _, ok := candidates[raw]; !ok {
			deleted = append(deleted, raw)
		}
	}
	for raw, sha := range candidates {
		s, ok := stored[raw]
		if !ok {
			newOnes = append(newOnes, raw)
			continue
		}
		if force || s.sha != sha {
			changed = append(changed, raw)
		}
	}
	return deleted, changed, newOnes
}

func sortNewestFirst(raws []string) {
	sort.SliceStable(raws, func(i, j int) bool {
		cmp, err := semverops.Compare(raws[i], raws[j])
		if err != nil {
			return false
		}
		return cmp > 0
	})
}

// edgesFromRequire builds DependencyEdge rows from a manifest's require
// map, skipping platform and asset targets.
func edgesFromRequire(require map[string]string) []model.DependencyEdge {
	if len(require) == 0 {
		return nil
	}
	edges := make([]model.DependencyEdge, 0, len(require))
	for depName, constraint := range require {
		if model.IsPlatformOrAsset(depName) {
			continue
		}
		edges = append(edges, model.DependencyEdge{Name: depName, Constraints: constraint})
	}
	return edges
}

// cascade walks every distinct dependency name collected across the
// newly-processed versions, creates it as an unmanaged library package
// if it doesn't exist, and enqueues an update for it unless every one
// of its constraints is already satisfiable by stored versions.
func (e *Engine) cascade(ctx context.Context, depConstraints map[string]map[string]bool) error {
	for depName, constraintSet := range depConstraints {
		constraints := make([]string, 0, len(constraintSet))
		for c := range constraintSet {
			constraints = append(constraints, c)
		}

		exists, err := e.store.PackageExists(ctx, depName)
		if err != nil {
			return fmt.Errorf("cascade %s: %w", depName, err)
		}

		needsUpdate := false
		if !exists {
			dep := &model.Package{Name: depName, Type: "library", Managed: false}
			if err := e.store.SavePackage(ctx, dep); err != nil {
				return fmt.Errorf("cascade %s: create package: %w", depName, err)
			}
			needsUpdate = true
		} else {
			satisfied, err := e.store.VersionsExist(ctx, depName, constraints)
			if err != nil {
				return fmt.Errorf("cascade %s: %w", depName, err)
			}
			needsUpdate = !satisfied
		}

		if needsUpdate {
			if err := e.queue.EnqueueUpdatePackage(ctx, depName, false); err != nil {
				return fmt.Errorf("cascade %s: enqueue: %w", depName, err)
			}
		}
	}
	return nil
}
