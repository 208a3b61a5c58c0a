package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// writeFile is a test helper that creates a file in dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func requireConfigError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr), "expected CLIError, got %T", err)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// TestLoad_Defaults verifies an empty config directory yields the built-in
// settings.
func TestLoad_Defaults(t *testing.T) {
	cfg, path, err := Load(LoadOptions{ConfigDir: t.TempDir()})

	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "asiaq:latest", cfg.Image.Tag)
	assert.Len(t, cfg.Run.Mounts, 2)
	assert.Equal(t, []string{"AWS_PROFILE", "SPOTINST_TOKEN", "SSH_AUTH_SOCK"}, cfg.Run.Env)
}

// TestLoad_YAML verifies file values override defaults and unset keys keep
// their defaults.
func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	want := writeFile(t, dir, "config.yaml", `
engine: podman
image:
  tag: asiaq:py27
  asiaq_ref: release-2.4
run:
  env: [AWS_PROFILE]
  mounts:
    - source: ~/.aws/config
      target: /root/.aws/config
      read_only: true
  extra_args: --network host
`)

	cfg, path, err := Load(LoadOptions{ConfigDir: dir})

	require.NoError(t, err)
	assert.Equal(t, want, path)
	assert.Equal(t, "podman", cfg.Engine)
	assert.Equal(t, "asiaq:py27", cfg.Image.Tag)
	assert.Equal(t, "release-2.4", cfg.Image.AsiaqRef)
	assert.Equal(t, "2.7.18", cfg.Image.PythonVersion, "unset keys keep defaults")
	assert.Equal(t, []string{"AWS_PROFILE"}, cfg.Run.Env)
	require.Len(t, cfg.Run.Mounts, 1)
	assert.True(t, cfg.Run.Mounts[0].ReadOnly)

	args, err := cfg.ExtraRunArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"--network", "host"}, args)
}

// TestLoad_JSONC verifies comments are accepted in JSON config files.
func TestLoad_JSONC(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.jsonc", `{
  // build a python 3 flavoured image
  "image": {
    "python_version": "3.12.1", /* pinned */
    "resolve_ref": false,
  },
  "bin_dir": "/opt/asiaq/links"
}`)

	cfg, _, err := Load(LoadOptions{ConfigDir: dir})

	require.NoError(t, err)
	assert.Equal(t, "3.12.1", cfg.Image.PythonVersion)
	assert.False(t, cfg.Image.ResolveRef)
	assert.Equal(t, "/opt/asiaq/links", cfg.BinDir)
}

// TestLoad_Precedence verifies env beats file and overrides beat env.
func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "image:\n  tag: from-file:1\n  asiaq_ref: file-ref\nengine: podman\n")
	t.Setenv("ASIAQ_CONTAINER_IMAGE_TAG", "from-env:1")
	t.Setenv("ASIAQ_CONTAINER_ENGINE", "nerdctl")

	cfg, _, err := Load(LoadOptions{
		ConfigDir: dir,
		Overrides: map[string]any{"image.tag": "from-flag:1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "from-flag:1", cfg.Image.Tag)
	assert.Equal(t, "nerdctl", cfg.Engine)
	assert.Equal(t, "file-ref", cfg.Image.AsiaqRef)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, _, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	requireConfigError(t, err)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "engine = 'docker'\n")

	_, _, err := Load(LoadOptions{ConfigFile: path})

	requireConfigError(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")
}

// TestLoad_Invalid covers values rejected by Validate.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unterminated quote", "run:\n  extra_args: --network 'host\n", "run.extra_args"},
		{"relative mount target", "run:\n  mounts:\n    - source: /a\n      target: a\n", "absolute container path"},
		{"bad python", "image:\n  python_version: newest\n", "invalid python version"},
		{"empty engine", "engine: \"\"\n", "engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			_, _, err := Load(LoadOptions{ConfigFile: path})
			requireConfigError(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestWriteDefault_RoundTrip verifies the rendered default config loads back
// to the defaults and is not overwritten without force.
func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefault(path, false))

	cfg, loaded, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, DefaultConfig(), cfg)

	err = WriteDefault(path, false)
	requireConfigError(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assert.NoError(t, WriteDefault(path, true))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/.aws/config")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aws/config"), got)

	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandHome("/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", got)

	got, err = ExpandHome("~other/file")
	require.NoError(t, err)
	assert.Equal(t, "~other/file", got, "other users' homes are not expanded")
}

func TestImageSpec(t *testing.T) {
	spec := DefaultConfig().ImageSpec()
	assert.NoError(t, spec.Validate())
	assert.Equal(t, "/opt/asiaq/bin", spec.ToolDir)
}
