// Package memstore is an in-memory Store implementation, guarded by a
// single sync.RWMutex. It backs the engine/provider/registry test suites
// so they run without a live database.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/store"
)

// Store is an in-memory, mutex-guarded store.Store.
type Store struct {
	mu sync.RWMutex

	nextPackageID int64
	nextVersionID int64
	nextEdgeID    int64

	packagesByName map[string]*model.Package
	packagesByID   map[int64]*model.Package
	versions       map[int64][]model.PackageVersion // packageID -> versions
	edges          map[int64][]model.DependencyEdge // versionID -> edges
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		packagesByName: make(map[string]*model.Package),
		packagesByID:   make(map[int64]*model.Package),
		versions:       make(map[int64][]model.PackageVersion),
		edges:          make(map[int64][]model.DependencyEdge),
	}
}

func (s *Store) PackageExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.packagesByName[name]
	return ok, nil
}

func (s *Store) PackageUpdatedWithin(_ context.Context, name string, d time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packagesByName[name]
	if !ok {
		return false, nil
	}
	if pkg.DateUpdated.Equal(pkg.DateCreated) {
		return false, nil
	}
	return time.Since(pkg.DateUpdated) < d, nil
}

func (s *Store) GetPackage(_ context.Context, name string) (*model.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packagesByName[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pkg
	return &cp, nil
}

func (s *Store) GetPackageByID(_ context.Context, id int64) (*model.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packagesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pkg
	return &cp, nil
}

func (s *Store) SavePackage(_ context.Context, pkg *model.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if pkg.ID == 0 {
		s.nextPackageID++
		pkg.ID = s.nextPackageID
		if pkg.DateCreated.IsZero() {
			pkg.DateCreated = now
		}
		pkg.DateUpdated = pkg.DateCreated
	} else {
		pkg.DateUpdated = now
	}

	cp := *pkg
	s.packagesByName[pkg.Name] = &cp
	s.packagesByID[pkg.ID] = &cp
	return nil
}

func (s *Store) RemovePackage(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, ok := s.packagesByName[name]
	if !ok {
		return store.ErrNotFound
	}

	for _, v := range s.versions[pkg.ID] {
		delete(s.edges, v.ID)
	}
	delete(s.versions, pkg.ID)
	delete(s.packagesByName, name)
	delete(s.packagesByID, pkg.ID)
	return nil
}

func (s *Store) AllVersions(_ context.Context, name string, minStability model.Stability, sorted bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packagesByName[name]
	if !ok {
		return nil, nil
	}

	out := make([]string, 0, len(s.versions[pkg.ID]))
	for _, v := range s.versions[pkg.ID] {
		if v.Stability.Admits(minStability) {
			out = append(out, v.Version)
		}
	}
	if sorted {
		semverops.SortAscending(out)
	}
	return out, nil
}

func (s *Store) GetRelease(_ context.Context, name, rawVersion string) (*model.PackageVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packagesByName[name]
	if !ok {
		return nil, store.ErrNotFound
	}

	normalized, err := semverops.Normalize(rawVersion)
	if err != nil {
		return nil, err
	}

	for _, v := range s.versions[pkg.ID] {
		if v.NormalizedVersion == normalized {
			cp := v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetReleases(ctx context.Context, name string, rawVersions []string) ([]model.PackageVersion, error) {
	out := make([]model.PackageVersion, 0, len(rawVersions))
	for _, rv := range rawVersions {
		v, err := s.GetRelease(ctx, name, rv)
		if err != nil {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *Store) VersionsExist(_ context.Context, name string, constraints []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packagesByName[name]
	if !ok {
		return false, nil
	}

	for _, c := range constraints {
		satisfiedByAny := false
		for _, v := range s.versions[pkg.ID] {
			ok, err := semverops.Satisfies(v.Version, c)
			if err != nil {
				continue
			}
			if ok {
				satisfiedByAny = true
				break
			}
		}
		if !satisfiedByAny {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) IsDependencyVersionRequired(_ context.Context, name, version string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, versionEdges := range s.edges {
		for _, e := range versionEdges {
			if e.Name != name {
				continue
			}
			ok, err := semverops.Satisfies(version, e.Constraints)
			if err != nil {
				continue
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) ReplaceVersions(_ context.Context, packageID int64, toDelete []int64, toInsert []model.PackageVersion, edgesToInsert []model.DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleteSet := make(map[int64]bool, len(toDelete))
	for _, id := range toDelete {
		deleteSet[id] = true
	}

	remaining := s.versions[packageID][:0:0]
	for _, v := range s.versions[packageID] {
		if deleteSet[v.ID] {
			delete(s.edges, v.ID)
			continue
		}
		remaining = append(remaining, v)
	}

	for i := range toInsert {
		s.nextVersionID++
		toInsert[i].ID = s.nextVersionID
		toInsert[i].PackageID = packageID
		remaining = append(remaining, toInsert[i])
	}
	s.versions[packageID] = remaining

	for _, e := range edgesToInsert {
		s.nextEdgeID++
		e.ID = s.nextEdgeID
		e.PackageID = packageID
		if len(toInsert) > 0 {
			e.VersionID = toInsert[len(toInsert)-1].ID
		}
		s.edges[e.VersionID] = append(s.edges[e.VersionID], e)
	}

	return nil
}

func (s *Store) SetLatest(_ context.Context, packageID int64, rawVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, ok := s.packagesByID[packageID]
	if !ok {
		return store.ErrNotFound
	}
	pkg.LatestVersion = rawVersion
	pkg.DateUpdated = time.Now()
	s.packagesByName[pkg.Name] = pkg
	return nil
}

func (s *Store) PublishedPackages(_ context.Context) ([]model.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Package, 0, len(s.packagesByID))
	for _, p := range s.packagesByID {
		if p.LatestVersion != "" {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) VersionsForEmission(_ context.Context, packageID int64) ([]model.PackageVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PackageVersion, len(s.versions[packageID]))
	copy(out, s.versions[packageID])
	return out, nil
}

func (s *Store) EdgesForVersion(_ context.Context, versionID int64) ([]model.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DependencyEdge, len(s.edges[versionID]))
	copy(out, s.edges[versionID])
	return out, nil
}

var _ store.Store = (*Store)(nil)
