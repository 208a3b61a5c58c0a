package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

func TestBuildRunArgs(t *testing.T) {
	opts := Options{
		Engine:      "docker",
		Image:       "asiaq:latest",
		Tool:        "disco_aws.py",
		Args:        []string{"listhosts", "--most"},
		Mounts:      []model.Mount{{Source: "/home/u/.aws/config", Target: "/root/.aws/config", ReadOnly: true}},
		PassEnv:     []string{"AWS_PROFILE"},
		SetEnv:      map[string]string{"ASIAQ_CONFIG": "/workspace"},
		Workdir:     "/workspace",
		Interactive: true,
		TTY:         true,
		Labels:      map[string]string{"b": "2", "a": "1"},
		ExtraArgs:   []string{"--network", "host"},
	}

	got := BuildRunArgs(opts)

	assert.Equal(t, []string{
		"run", "--rm", "--pull=never", "-i", "-t",
		"--label", "a=1", "--label", "b=2",
		"-v", "/home/u/.aws/config:/root/.aws/config:ro",
		"-e", "AWS_PROFILE",
		"-e", "ASIAQ_CONFIG=/workspace",
		"-w", "/workspace",
		"--network", "host",
		"asiaq:latest", "disco_aws.py", "listhosts", "--most",
	}, got)
}

// TestBuildRunArgs_NoTTY verifies -t is omitted and tool args that look like
// flags stay after the image.
func TestBuildRunArgs_NoTTY(t *testing.T) {
	got := BuildRunArgs(Options{Image: "img", Tool: "asiaq", Args: []string{"-t", "--rm"}, Interactive: true})

	assert.Equal(t, []string{"run", "--rm", "--pull=never", "-i", "img", "asiaq", "-t", "--rm"}, got)
}

type fakeFileInfo struct{ os.FileInfo }

// fakeHost returns a Host where only the listed paths exist.
func fakeHost(env map[string]string, existing ...string) Host {
	paths := map[string]bool{}
	for _, p := range existing {
		paths[p] = true
	}
	return Host{
		LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
		Getwd: func() (string, error) { return "/home/u/project", nil },
		Stat: func(p string) (os.FileInfo, error) {
			if paths[p] {
				return fakeFileInfo{}, nil
			}
			return nil, os.ErrNotExist
		},
		GOOS: "linux",
	}
}

func TestPlan_Defaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	awsConfig := filepath.Join(home, ".aws", "config")

	cfg := config.DefaultConfig()
	host := fakeHost(map[string]string{
		"AWS_PROFILE":   "dev",
		"SSH_AUTH_SOCK": "/tmp/agent.sock",
	}, awsConfig, "/tmp/agent.sock")
	host.Terminal = true

	opts, err := Plan(cfg, "disco_aws.py", []string{"listhosts"}, host)

	require.NoError(t, err)
	assert.Equal(t, "docker", opts.Engine)
	assert.Equal(t, "asiaq:latest", opts.Image)
	assert.True(t, opts.TTY)
	assert.Equal(t, []model.Mount{
		{Source: awsConfig, Target: "/root/.aws/config", ReadOnly: true},
		{Source: "/tmp/agent.sock", Target: "/tmp/agent.sock"},
		{Source: "/home/u/project", Target: "/workspace"},
	}, opts.Mounts, "missing credentials file is skipped")
	assert.Equal(t, []string{"AWS_PROFILE"}, opts.PassEnv, "unset SPOTINST_TOKEN is not forwarded")
	assert.Equal(t, map[string]string{
		"SSH_AUTH_SOCK": "/tmp/agent.sock",
		"ASIAQ_CONFIG":  "/workspace",
	}, opts.SetEnv)
	assert.Equal(t, "/workspace", opts.Workdir)
	assert.Equal(t, "disco_aws.py", opts.Labels["asiaq-container.tool"])
}

func TestPlan_SSHAgentDarwin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.MountWorkdir = false
	host := fakeHost(map[string]string{"SSH_AUTH_SOCK": "/private/tmp/launchd/Listeners"})
	host.GOOS = "darwin"

	opts, err := Plan(cfg, "asiaq", nil, host)

	require.NoError(t, err)
	assert.Equal(t, []model.Mount{{Source: dockerDesktopSSHSocket, Target: dockerDesktopSSHSocket}}, opts.Mounts)
	assert.Equal(t, dockerDesktopSSHSocket, opts.SetEnv["SSH_AUTH_SOCK"])
	assert.Empty(t, opts.Workdir)
}

// TestPlan_SSHAgentDisabled forwards SSH_AUTH_SOCK as a plain variable when
// agent forwarding is off.
func TestPlan_SSHAgentDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.ForwardSSHAgent = false
	host := fakeHost(map[string]string{"SSH_AUTH_SOCK": "/tmp/agent.sock"}, "/tmp/agent.sock")

	opts, err := Plan(cfg, "asiaq", nil, host)

	require.NoError(t, err)
	assert.Equal(t, []string{"SSH_AUTH_SOCK"}, opts.PassEnv)
	assert.NotContains(t, opts.SetEnv, "SSH_AUTH_SOCK")
}

func TestPlan_InvalidTool(t *testing.T) {
	_, err := Plan(config.DefaultConfig(), model.BinaryName, nil, fakeHost(nil))

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitToolNotFound, cliErr.Code)
}

func TestPlan_BadExtraArgs(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Run.ExtraArgs = `--env "unterminated`

	_, err := Plan(cfg, "asiaq", nil, fakeHost(nil))

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

func TestToolFromArgv0(t *testing.T) {
	tests := []struct {
		argv0  string
		want   string
		wantOK bool
	}{
		{"/home/u/.local/bin/disco_aws.py", "disco_aws.py", true},
		{"asiaq", "asiaq", true},
		{"/usr/local/bin/asiaq-container", "", false},
		{"asiaq-container.exe", "", false},
		{"./asiaq-container", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.argv0, func(t *testing.T) {
			got, ok := ToolFromArgv0(tt.argv0)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvocation(t *testing.T) {
	inv, ok := ParseInvocation([]string{"/home/u/.local/bin/asiaq", "--help", "x"})
	require.True(t, ok)
	assert.Equal(t, Invocation{Tool: "asiaq", Args: []string{"--help", "x"}}, inv)

	_, ok = ParseInvocation([]string{"/usr/bin/asiaq-container", "build"})
	assert.False(t, ok)

	_, ok = ParseInvocation(nil)
	assert.False(t, ok)
}

// installFakeEngine puts a shell script named fake-engine on PATH that
// prints its arguments and exits with the status in FAKE_ENGINE_EXIT, or
// kills itself with FAKE_ENGINE_SIGNAL when that is set.
func installFakeEngine(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"echo \"$@\"\n" +
		"if [ -n \"$FAKE_ENGINE_SIGNAL\" ]; then kill -\"$FAKE_ENGINE_SIGNAL\" $$; fi\n" +
		"exit ${FAKE_ENGINE_EXIT:-0}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake-engine"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return "fake-engine"
}

// TestRun_PropagatesExitCode verifies the tool's exit status is returned
// unchanged and the engine receives the rendered arguments.
func TestRun_PropagatesExitCode(t *testing.T) {
	engine := installFakeEngine(t)
	t.Setenv("FAKE_ENGINE_EXIT", "3")

	var stdout bytes.Buffer
	code, err := Run(context.Background(), &Options{
		Engine: engine,
		Image:  "asiaq:latest",
		Tool:   "disco_vpc.py",
		Args:   []string{"list"},
	}, Stdio{In: strings.NewReader(""), Out: &stdout, Err: &bytes.Buffer{}})

	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "run --rm --pull=never asiaq:latest disco_vpc.py list\n", stdout.String())
}

func TestRun_Success(t *testing.T) {
	engine := installFakeEngine(t)

	code, err := Run(context.Background(), &Options{Engine: engine, Image: "img", Tool: "asiaq"},
		Stdio{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}})

	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

// TestRun_KilledBySignal verifies an engine killed by a signal yields the
// shell convention of 128 plus the signal number.
func TestRun_KilledBySignal(t *testing.T) {
	tests := []struct {
		signal string
		want   int
	}{
		{"KILL", 137},
		{"TERM", 143},
	}

	for _, tt := range tests {
		t.Run(tt.signal, func(t *testing.T) {
			engine := installFakeEngine(t)
			t.Setenv("FAKE_ENGINE_SIGNAL", tt.signal)

			code, err := Run(context.Background(), &Options{Engine: engine, Image: "img", Tool: "asiaq"},
				Stdio{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}})

			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

// TestStdio_SharesTerminal verifies buffers and regular files are not
// treated as a terminal, so interrupts are relayed to the engine.
func TestStdio_SharesTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.False(t, Stdio{}.sharesTerminal())
	assert.False(t, Stdio{In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}.sharesTerminal())
	assert.False(t, Stdio{In: f, Out: f, Err: f}.sharesTerminal())
}

func TestRun_EngineMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := Run(context.Background(), &Options{Engine: "no-such-engine", Image: "img", Tool: "asiaq"}, Stdio{})

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitDockerNotRunning, cliErr.Code)
}
