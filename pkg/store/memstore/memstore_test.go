package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftreg/registry/pkg/model"
)

func TestSavePackageAssignsID(t *testing.T) {
	s := New()
	ctx := context.Background()

	pkg := &model.Package{Name: "acme/plugin", Type: "composer-plugin", Managed: true}
	require.NoError(t, s.SavePackage(ctx, pkg))
	assert.NotZero(t, pkg.ID)

	got, err := s.GetPackage(ctx, "acme/plugin")
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, got.ID)
	assert.True(t, got.DateUpdated.Equal(got.DateCreated))
}

func TestReplaceVersionsAndVersionsExist(t *testing.T) {
	s := New()
	ctx := context.Background()

	pkg := &model.Package{Name: "acme/plugin", Managed: true}
	require.NoError(t, s.SavePackage(ctx, pkg))

	err := s.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable, SHA: "sha1"},
	}, nil)
	require.NoError(t, err)

	exists, err := s.VersionsExist(ctx, "acme/plugin", []string{"^1.0"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.VersionsExist(ctx, "acme/plugin", []string{"^2.0"})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIsDependencyVersionRequired(t *testing.T) {
	s := New()
	ctx := context.Background()

	pkg := &model.Package{Name: "acme/plugin", Managed: true}
	require.NoError(t, s.SavePackage(ctx, pkg))

	err := s.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0", Stability: model.StabilityStable},
	}, nil)
	require.NoError(t, err)

	versions, err := s.VersionsForEmission(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	err = s.ReplaceVersions(ctx, pkg.ID, nil, nil, []model.DependencyEdge{
		{VersionID: versions[0].ID, Name: "libx", Constraints: "^2.0"},
	})
	require.NoError(t, err)

	required, err := s.IsDependencyVersionRequired(ctx, "libx", "2.0.0")
	require.NoError(t, err)
	assert.True(t, required)

	required, err = s.IsDependencyVersionRequired(ctx, "libx", "1.0.0")
	require.NoError(t, err)
	assert.False(t, required)
}

func TestRemovePackageCascades(t *testing.T) {
	s := New()
	ctx := context.Background()

	pkg := &model.Package{Name: "acme/plugin", Managed: true}
	require.NoError(t, s.SavePackage(ctx, pkg))
	require.NoError(t, s.ReplaceVersions(ctx, pkg.ID, nil, []model.PackageVersion{
		{Version: "1.0.0", NormalizedVersion: "1.0.0.0"},
	}, nil))

	require.NoError(t, s.RemovePackage(ctx, "acme/plugin"))

	_, err := s.GetPackage(ctx, "acme/plugin")
	assert.Error(t, err)

	versions, err := s.VersionsForEmission(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
