package alias

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// setupLinker creates a fake multi-call binary and a Linker writing into a
// bin dir that does not exist yet.
func setupLinker(t *testing.T) *Linker {
	t.Helper()

	root := t.TempDir()
	target := filepath.Join(root, "opt", model.BinaryName)
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))

	l, err := NewLinker(filepath.Join(root, "bin"), target)
	require.NoError(t, err)
	return l
}

func states(aliases []model.Alias) map[string]model.LinkState {
	out := make(map[string]model.LinkState, len(aliases))
	for _, a := range aliases {
		out[a.Name] = a.State
	}
	return out
}

// TestLink_CreatesSymlinks verifies links are created in a fresh bin dir and
// point at the binary.
func TestLink_CreatesSymlinks(t *testing.T) {
	l := setupLinker(t)

	results, err := l.Link([]string{"disco_aws.py", "disco_vpc.py"}, false)

	require.NoError(t, err)
	assert.Equal(t, map[string]model.LinkState{
		"disco_aws.py": model.LinkCreated,
		"disco_vpc.py": model.LinkCreated,
	}, states(results))

	dest, err := os.Readlink(filepath.Join(l.BinDir, "disco_aws.py"))
	require.NoError(t, err)
	assert.Equal(t, l.Target, dest)
}

// TestLink_Idempotent verifies re-linking reports unchanged.
func TestLink_Idempotent(t *testing.T) {
	l := setupLinker(t)

	_, err := l.Link([]string{"disco_aws.py"}, false)
	require.NoError(t, err)

	results, err := l.Link([]string{"disco_aws.py"}, false)
	require.NoError(t, err)
	assert.Equal(t, model.LinkUnchanged, results[0].State)
}

// TestLink_ForeignFile verifies a regular file is skipped without --force
// and replaced with it.
func TestLink_ForeignFile(t *testing.T) {
	l := setupLinker(t)
	require.NoError(t, os.MkdirAll(l.BinDir, 0o755))
	foreign := filepath.Join(l.BinDir, "asiaq")
	require.NoError(t, os.WriteFile(foreign, []byte("#!/bin/sh\necho mine\n"), 0o755))

	results, err := l.Link([]string{"asiaq"}, false)
	require.NoError(t, err)
	assert.Equal(t, model.LinkSkipped, results[0].State)
	assert.Contains(t, results[0].Note, "--force")

	content, err := os.ReadFile(foreign)
	require.NoError(t, err)
	assert.Contains(t, string(content), "echo mine", "foreign file must be untouched")

	results, err = l.Link([]string{"asiaq"}, true)
	require.NoError(t, err)
	assert.Equal(t, model.LinkReplaced, results[0].State)

	dest, err := os.Readlink(foreign)
	require.NoError(t, err)
	assert.Equal(t, l.Target, dest)
}

// TestLink_ForeignSymlink verifies a link to another program is only
// replaced with force.
func TestLink_ForeignSymlink(t *testing.T) {
	l := setupLinker(t)
	require.NoError(t, os.MkdirAll(l.BinDir, 0o755))
	path := filepath.Join(l.BinDir, "asiaq")
	require.NoError(t, os.Symlink("/usr/bin/true", path))

	results, err := l.Link([]string{"asiaq"}, false)
	require.NoError(t, err)
	assert.Equal(t, model.LinkSkipped, results[0].State)
	assert.Contains(t, results[0].Note, "/usr/bin/true")

	results, err = l.Link([]string{"asiaq"}, true)
	require.NoError(t, err)
	assert.Equal(t, model.LinkReplaced, results[0].State)
}

// TestLink_RelativeLinkToTarget counts relative links resolving to the
// binary as already linked.
func TestLink_RelativeLinkToTarget(t *testing.T) {
	l := setupLinker(t)
	require.NoError(t, os.MkdirAll(l.BinDir, 0o755))
	rel, err := filepath.Rel(l.BinDir, l.Target)
	require.NoError(t, err)
	require.NoError(t, os.Symlink(rel, filepath.Join(l.BinDir, "asiaq")))

	results, err := l.Link([]string{"asiaq"}, false)
	require.NoError(t, err)
	assert.Equal(t, model.LinkUnchanged, results[0].State)
}

func TestLink_DirectoryNeverReplaced(t *testing.T) {
	l := setupLinker(t)
	require.NoError(t, os.MkdirAll(filepath.Join(l.BinDir, "asiaq"), 0o755))

	results, err := l.Link([]string{"asiaq"}, true)
	require.NoError(t, err)
	assert.Equal(t, model.LinkSkipped, results[0].State)
	assert.Contains(t, results[0].Note, "directory")
}

func TestLink_InvalidName(t *testing.T) {
	l := setupLinker(t)

	results, err := l.Link([]string{"../escape", model.BinaryName}, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, a := range results {
		assert.Equal(t, model.LinkSkipped, a.State)
		assert.NotEmpty(t, a.Note)
	}
	_, statErr := os.Lstat(filepath.Join(l.BinDir, model.BinaryName))
	assert.True(t, os.IsNotExist(statErr))
}

// TestList returns only links pointing at the binary.
func TestList(t *testing.T) {
	l := setupLinker(t)
	_, err := l.Link([]string{"disco_vpc.py", "disco_aws.py"}, false)
	require.NoError(t, err)
	require.NoError(t, os.Symlink("/usr/bin/true", filepath.Join(l.BinDir, "other")))
	require.NoError(t, os.WriteFile(filepath.Join(l.BinDir, "script"), nil, 0o755))

	aliases, err := l.List()
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "disco_aws.py", aliases[0].Name)
	assert.Equal(t, "disco_vpc.py", aliases[1].Name)
}

func TestList_MissingBinDir(t *testing.T) {
	l := setupLinker(t)

	aliases, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

// TestUnlink removes managed links and leaves everything else alone.
func TestUnlink(t *testing.T) {
	l := setupLinker(t)
	_, err := l.Link([]string{"disco_aws.py", "disco_vpc.py"}, false)
	require.NoError(t, err)
	other := filepath.Join(l.BinDir, "other")
	require.NoError(t, os.Symlink("/usr/bin/true", other))

	results, err := l.Unlink([]string{"disco_aws.py", "other", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.LinkState{
		"disco_aws.py": model.LinkRemoved,
		"other":        model.LinkSkipped,
		"missing":      model.LinkSkipped,
	}, states(results))

	_, err = os.Lstat(other)
	assert.NoError(t, err, "foreign link must survive unlink")

	remaining, err := l.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "disco_vpc.py", remaining[0].Name)
}

func TestUnlink_All(t *testing.T) {
	l := setupLinker(t)
	_, err := l.Link([]string{"a.py", "b.py", "c.py"}, false)
	require.NoError(t, err)

	results, err := l.Unlink(nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, a := range results {
		assert.Equal(t, model.LinkRemoved, a.State)
	}

	remaining, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
