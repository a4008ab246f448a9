package update_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/store/memstore"
	"github.com/craftreg/registry/pkg/update"
)

// syncQueue records enqueued jobs without dispatching them, so tests can
// assert on the cascade without racing a background worker.
type syncQueue struct {
	mu            sync.Mutex
	updateCalls   []string
	deleteCalls   [][]string
}

func (q *syncQueue) EnqueueUpdatePackage(ctx context.Context, name string, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updateCalls = append(q.updateCalls, name)
	return nil
}

func (q *syncQueue) EnqueueDeletePaths(ctx context.Context, paths []string, after time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleteCalls = append(q.deleteCalls, paths)
	return nil
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestUpdatePackageFreshIngestCascadesDependency(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := &model.Package{Name: "acme/plugin", Type: "composer-plugin", Managed: true, Repository: "repo-1"}
	require.NoError(t, st.SavePackage(ctx, pkg))

	factory := newFakeFactory()
	factory.set("repo-1", map[string]fakeRelease{
		"1.0.0": {sha: "sha1"},
		"1.1.0": {sha: "sha2", require: map[string]string{"psr/log": "^1.0", "php": ">=7.2"}},
	})

	q := &syncQueue{}
	engine := update.New(st, factory, q, discardLog())

	require.NoError(t, engine.UpdatePackage(ctx, "acme/plugin", false))

	got, err := st.GetPackage(ctx, "acme/plugin")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.LatestVersion)

	versions, err := st.AllVersions(ctx, "acme/plugin", model.StabilityDev, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0"}, versions)

	depExists, err := st.PackageExists(ctx, "psr/log")
	require.NoError(t, err)
	assert.True(t, depExists)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Contains(t, q.updateCalls, "psr/log")
}

func TestUpdatePackageSHADrift(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := &model.Package{Name: "acme/plugin", Managed: true, Repository: "repo-1"}
	require.NoError(t, st.SavePackage(ctx, pkg))
	require.NoError(t, st.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable, SHA: "shaA"},
	}, nil))

	factory := newFakeFactory()
	factory.set("repo-1", map[string]fakeRelease{
		"1.0.0": {sha: "shaB"},
	})

	engine := update.New(st, factory, &syncQueue{}, discardLog())
	require.NoError(t, engine.UpdatePackage(ctx, "acme/plugin", false))

	release, err := st.GetRelease(ctx, "acme/plugin", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "shaB", release.SHA)
}

func TestUpdatePackageDeletion(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := &model.Package{Name: "acme/plugin", Managed: true, Repository: "repo-1"}
	require.NoError(t, st.SavePackage(ctx, pkg))
	require.NoError(t, st.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable, SHA: "sha1"},
		{Version: "1.1.0", NormalizedVersion: "1.1.0.0", Stability: model.StabilityStable, SHA: "sha2"},
	}, nil))
	require.NoError(t, st.SetLatest(ctx, pkg.ID, "1.1.0"))

	factory := newFakeFactory()
	factory.set("repo-1", map[string]fakeRelease{
		"1.1.0": {sha: "sha2"},
	})

	engine := update.New(st, factory, &syncQueue{}, discardLog())
	require.NoError(t, engine.UpdatePackage(ctx, "acme/plugin", false))

	versions, err := st.AllVersions(ctx, "acme/plugin", model.StabilityDev, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, versions)

	got, err := st.GetPackage(ctx, "acme/plugin")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.LatestVersion)
}

func TestUpdatePackageTransitiveGating(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := &model.Package{Name: "libx", Managed: false, Repository: "repo-libx"}
	require.NoError(t, st.SavePackage(ctx, pkg))

	factory := newFakeFactory()
	factory.set("repo-libx", map[string]fakeRelease{
		"2.0.0": {sha: "sha1"},
	})

	engine := update.New(st, factory, &syncQueue{}, discardLog())
	require.NoError(t, engine.UpdatePackage(ctx, "libx", false))

	versions, err := st.AllVersions(ctx, "libx", model.StabilityDev, true)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestUpdatePackageTransitiveAdmittedWhenRequired(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	libx := &model.Package{Name: "libx", Managed: false, Repository: "repo-libx"}
	require.NoError(t, st.SavePackage(ctx, libx))

	other := &model.Package{Name: "acme/other", Managed: true}
	require.NoError(t, st.SavePackage(ctx, other))
	otherVersions, err := st.AllVersions(ctx, "acme/other", model.StabilityDev, false)
	require.NoError(t, err)
	require.Empty(t, otherVersions)
	require.NoError(t, st.ReplaceVersions(ctx, other.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable},
	}, nil))
	versions, err := st.VersionsForEmission(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.NoError(t, st.ReplaceVersions(ctx, other.ID, nil, nil, []model.DependencyEdge{
		{VersionID: versions[0].ID, Name: "libx", Constraints: "^2.0"},
	}))

	factory := newFakeFactory()
	factory.set("repo-libx", map[string]fakeRelease{
		"2.0.0": {sha: "sha1"},
	})

	engine := update.New(st, factory, &syncQueue{}, discardLog())
	require.NoError(t, engine.UpdatePackage(ctx, "libx", false))

	libxVersions, err := st.AllVersions(ctx, "libx", model.StabilityDev, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, libxVersions)
}

// TestUpdatePackageLatestPrefersStableOverNewer exercises the branch
// where a newer prerelease is ingested before an older stable release:
// latest must still land on the stable one rather than whichever
// version was processed first.
func TestUpdatePackageLatestPrefersStableOverNewer(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := &model.Package{Name: "acme/plugin", Managed: true, Repository: "repo-1"}
	require.NoError(t, st.SavePackage(ctx, pkg))

	factory := newFakeFactory()
	factory.set("repo-1", map[string]fakeRelease{
		"1.0.0":     {sha: "sha1"},
		"1.1.0-rc1": {sha: "sha2"},
	})

	engine := update.New(st, factory, &syncQueue{}, discardLog())
	require.NoError(t, engine.UpdatePackage(ctx, "acme/plugin", false))

	got, err := st.GetPackage(ctx, "acme/plugin")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.LatestVersion, "stable 1.0.0 should win over newer prerelease 1.1.0-rc1")

	versions, err := st.AllVersions(ctx, "acme/plugin", model.StabilityDev, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0-rc1"}, versions)
}
