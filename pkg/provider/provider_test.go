package provider_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/provider"
	"github.com/craftreg/registry/pkg/store/memstore"
)

type recordingQueue struct {
	mu    sync.Mutex
	calls [][]string
}

func (q *recordingQueue) EnqueueUpdatePackage(ctx context.Context, name string, force bool) error {
	return nil
}

func (q *recordingQueue) EnqueueDeletePaths(ctx context.Context, paths []string, after time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, append([]string(nil), paths...))
	return nil
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func seedPackage(t *testing.T, st *memstore.Store, description string) *model.Package {
	t.Helper()
	ctx := context.Background()

	pkg := &model.Package{Name: "acme/plugin", Type: "composer-plugin", Managed: true}
	require.NoError(t, st.SavePackage(ctx, pkg))
	require.NoError(t, st.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable, SHA: "sha1", Description: description},
	}, nil))
	require.NoError(t, st.SetLatest(ctx, pkg.ID, "1.0.0"))
	return pkg
}

func TestDumpProviderJSONDeterministic(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedPackage(t, st, "a plugin")

	webroot := t.TempDir()
	q := &recordingQueue{}
	emitter := provider.New(st, q, webroot, time.Minute, discardLog())

	require.NoError(t, emitter.DumpProviderJSON(ctx))
	first, err := os.ReadFile(filepath.Join(webroot, "packages.json"))
	require.NoError(t, err)

	require.NoError(t, emitter.DumpProviderJSON(ctx))
	second, err := os.ReadFile(filepath.Join(webroot, "packages.json"))
	require.NoError(t, err)

	assert.Equal(t, first, second)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.calls, "no files should be superseded on an unchanged rerun")
}

func TestDumpProviderJSONAtomicSwapOnChange(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	pkg := seedPackage(t, st, "a plugin")

	webroot := t.TempDir()
	q := &recordingQueue{}
	emitter := provider.New(st, q, webroot, time.Minute, discardLog())

	require.NoError(t, emitter.DumpProviderJSON(ctx))

	packageDir := filepath.Join(webroot, "p", pkg.Name)
	before, err := os.ReadDir(packageDir)
	require.NoError(t, err)
	require.Len(t, before, 1)

	versions, err := st.VersionsForEmission(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	versions[0].Description = "a changed plugin"
	require.NoError(t, st.ReplaceVersions(ctx, pkg.ID, []int64{versions[0].ID}, []model.PackageVersion{versions[0]}, nil))

	require.NoError(t, emitter.DumpProviderJSON(ctx))

	after, err := os.ReadDir(packageDir)
	require.NoError(t, err)
	assert.Len(t, after, 2, "old and new content-addressed files coexist until gc runs")

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.NotEmpty(t, q.calls, "superseded files should be scheduled for delayed deletion")
}
