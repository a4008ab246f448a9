package semverops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftreg/registry/pkg/model"
)

func TestParseStability(t *testing.T) {
	cases := []struct {
		version string
		want    model.Stability
	}{
		{"1.0.0", model.StabilityStable},
		{"v1.0.0", model.StabilityStable},
		{"1.1.0-beta1", model.StabilityBeta},
		{"1.1.0-beta.1", model.StabilityBeta},
		{"1.1.0-alpha1", model.StabilityAlpha},
		{"1.1.0-rc1", model.StabilityRC},
		{"dev-master", model.StabilityDev},
		{"1.x-dev", model.StabilityDev},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseStability(tc.version), tc.version)
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("1.2.0-beta.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0.0-beta3", got)

	got, err = Normalize("v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0.0", got)

	_, err = Normalize("not-a-version")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestCompare(t *testing.T) {
	c, err := Compare("1.0.0", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare("1.1.0", "1.1.0-beta1")
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestSatisfies(t *testing.T) {
	ok, err := Satisfies("1.5.0", "^1.2 || ^2.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Satisfies("2.5.0", "^1.2 || ^2.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Satisfies("3.0.0", "^1.2 || ^2.0")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Satisfies("1.2.0", "*")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSortAscending(t *testing.T) {
	versions := []string{"1.1.0", "1.0.0", "1.1.0-beta1"}
	SortAscending(versions)
	assert.Equal(t, []string{"1.0.0", "1.1.0-beta1", "1.1.0"}, versions)
}
