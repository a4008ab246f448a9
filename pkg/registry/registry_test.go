package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/registry"
	"github.com/craftreg/registry/pkg/store/memstore"
)

func seed(t *testing.T, st *memstore.Store) {
	t.Helper()
	ctx := context.Background()

	pkg := &model.Package{Name: "acme/plugin", Managed: true}
	require.NoError(t, st.SavePackage(ctx, pkg))
	require.NoError(t, st.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable},
		{Version: "1.1.0-beta1", NormalizedVersion: "1.1.0.0-beta1", Stability: model.StabilityBeta},
		{Version: "1.1.0", NormalizedVersion: "1.1.0.0", Stability: model.StabilityStable},
	}, nil))
}

func TestGetLatestVersionStabilityFilter(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st)
	reg := registry.New(st)

	latest, err := reg.GetLatestVersion(ctx, "acme/plugin", model.StabilityStable)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest)

	latest, err = reg.GetLatestVersion(ctx, "acme/plugin", model.StabilityBeta)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest)
}

func TestGetLatestVersionStabilityFilterWithOnlyBetaAvailable(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	pkg := &model.Package{Name: "acme/plugin", Managed: true}
	require.NoError(t, st.SavePackage(ctx, pkg))
	require.NoError(t, st.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable},
		{Version: "1.1.0-beta1", NormalizedVersion: "1.1.0.0-beta1", Stability: model.StabilityBeta},
	}, nil))

	reg := registry.New(st)

	latest, err := reg.GetLatestVersion(ctx, "acme/plugin", model.StabilityStable)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", latest)

	latest, err = reg.GetLatestVersion(ctx, "acme/plugin", model.StabilityBeta)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0-beta1", latest)
}

func TestSatisfies(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(t, st)
	reg := registry.New(st)

	ok, err := reg.Satisfies(ctx, "acme/plugin", "^1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Satisfies(ctx, "acme/plugin", "^2.0")
	require.NoError(t, err)
	assert.False(t, ok)
}
