package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("hospital")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity kind")
}

func TestJobStatusLifecycle(t *testing.T) {
	assert.True(t, JobStatusQueued.Active())
	assert.True(t, JobStatusRunning.Active())
	assert.False(t, JobStatusSucceeded.Active())
	assert.False(t, JobStatusFailed.Active())

	assert.True(t, JobStatusSucceeded.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
}

func TestParsePhase(t *testing.T) {
	for _, p := range Phases {
		got, err := ParsePhase(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePhase("negotiating")
	require.Error(t, err)
}

func TestSpecFor(t *testing.T) {
	for _, k := range Kinds {
		spec := SpecFor(k)
		assert.Equal(t, k, spec.Kind)
		assert.NotEmpty(t, spec.Label)
		assert.NotEmpty(t, spec.Plural)
		assert.NotEmpty(t, spec.ResearchFocus)
	}

	// Unknown kinds echo back rather than panic.
	spec := SpecFor(Kind("mystery"))
	assert.Equal(t, "mystery", spec.Label)
	assert.Empty(t, spec.ResearchFocus)
}
