package image

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildLabels_RoundTrip verifies that ParseLabels recovers every field
// written by BuildLabels.
func TestBuildLabels_RoundTrip(t *testing.T) {
	spec := DefaultSpec()
	spec.AsiaqCommit = "0123456789abcdef0123456789abcdef01234567"
	spec.BuiltAt = time.Date(2026, 10, 1, 12, 30, 0, 0, time.UTC)

	labels := BuildLabels(spec)
	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, "2026-10-01T12:30:00Z", labels[LabelBuiltAt])

	parsed, err := ParseLabels(labels)
	require.NoError(t, err)
	assert.Equal(t, spec.PythonVersion, parsed.PythonVersion)
	assert.Equal(t, spec.AsiaqRepo, parsed.AsiaqRepo)
	assert.Equal(t, spec.AsiaqRef, parsed.AsiaqRef)
	assert.Equal(t, spec.AsiaqCommit, parsed.AsiaqCommit)
	assert.Equal(t, spec.ToolDir, parsed.ToolDir)
	assert.True(t, spec.BuiltAt.Equal(parsed.BuiltAt))
}

// TestBuildLabels_NoCommit checks the optional commit label is omitted.
func TestBuildLabels_NoCommit(t *testing.T) {
	labels := BuildLabels(DefaultSpec())
	assert.NotContains(t, labels, LabelAsiaqCommit)

	parsed, err := ParseLabels(labels)
	require.NoError(t, err)
	assert.Empty(t, parsed.AsiaqCommit)
}

// TestParseLabels_Missing lists every absent required label in one error.
func TestParseLabels_Missing(t *testing.T) {
	_, err := ParseLabels(map[string]string{
		LabelManagedBy: ManagedByValue,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), LabelPythonVersion)
	assert.Contains(t, err.Error(), LabelAsiaqRepo)
	assert.Contains(t, err.Error(), LabelBuiltAt)
}

func TestParseLabels_ForeignImage(t *testing.T) {
	labels := BuildLabels(DefaultSpec())
	labels[LabelManagedBy] = "someone-else"

	_, err := ParseLabels(labels)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected value")
}

func TestParseLabels_BadTimestamp(t *testing.T) {
	labels := BuildLabels(DefaultSpec())
	labels[LabelBuiltAt] = "yesterday"

	_, err := ParseLabels(labels)
	require.Error(t, err)
	assert.Contains(t, err.Error(), LabelBuiltAt)
}

func TestRunLabels(t *testing.T) {
	labels := RunLabels("disco_aws.py")
	assert.Equal(t, map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelTool:      "disco_aws.py",
	}, labels)
}
