// Package runner turns an alias invocation into a "docker run" of the
// toolkit image.
//
// Tools are run through the engine CLI rather than the Engine API: the CLI
// already handles TTY raw mode, window resizes, stdin streaming and signal
// proxying, which is what makes an alias indistinguishable from a locally
// installed command.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"

	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/image"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// dockerDesktopSSHSocket is the agent socket Docker Desktop exposes inside
// its VM; host socket paths cannot be bind-mounted on macOS.
const dockerDesktopSSHSocket = "/run/host-services/ssh-auth.sock"

// Options describes a single tool invocation.
type Options struct {
	// Engine is the container CLI binary ("docker" or "podman").
	Engine string

	// Image is the toolkit image reference.
	Image string

	// Tool is the toolkit command to execute; Args are passed through verbatim.
	Tool string
	Args []string

	Mounts []model.Mount

	// PassEnv lists variables forwarded by name ("-e NAME"); the engine
	// CLI copies their values from its own environment, which keeps
	// secrets off the process command line.
	PassEnv []string

	// SetEnv holds variables with explicit values ("-e NAME=VALUE").
	SetEnv map[string]string

	Workdir string

	Interactive bool
	TTY         bool

	Labels map[string]string

	// ExtraArgs are inserted before the image reference.
	ExtraArgs []string
}

// BuildRunArgs renders opts as the argument vector of "<engine> run".
// The output is deterministic: labels and explicit env are sorted by key.
func BuildRunArgs(opts Options) []string {
	args := []string{"run", "--rm", "--pull=never"}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}

	for _, key := range sortedKeys(opts.Labels) {
		args = append(args, "--label", key+"="+opts.Labels[key])
	}
	for _, m := range opts.Mounts {
		args = append(args, "-v", m.String())
	}
	for _, name := range opts.PassEnv {
		args = append(args, "-e", name)
	}
	for _, key := range sortedKeys(opts.SetEnv) {
		args = append(args, "-e", key+"="+opts.SetEnv[key])
	}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	args = append(args, opts.ExtraArgs...)

	args = append(args, opts.Image, opts.Tool)
	args = append(args, opts.Args...)
	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Host abstracts the parts of the calling environment Plan reads, so that
// planning can be tested without touching the real process state.
type Host struct {
	LookupEnv func(string) (string, bool)
	Getwd     func() (string, error)
	Stat      func(string) (os.FileInfo, error)
	GOOS      string

	// Terminal reports whether stdin and stdout are both terminals.
	Terminal bool
}

// CurrentHost returns a Host backed by the running process.
func CurrentHost(terminal bool) Host {
	return Host{
		LookupEnv: os.LookupEnv,
		Getwd:     os.Getwd,
		Stat:      os.Stat,
		GOOS:      runtime.GOOS,
		Terminal:  terminal,
	}
}

// Plan builds the Options for running tool with args under cfg.
//
// Credential mounts whose host file is missing are skipped; environment
// variables are forwarded only when set. Forwarding is best-effort by
// design of the toolkit: most commands work with a subset of credentials.
func Plan(cfg *config.Config, tool string, args []string, host Host) (*Options, error) {
	if err := model.ValidateToolName(tool); err != nil {
		return nil, model.WrapCLIError(model.ExitToolNotFound, "cannot run tool", err)
	}

	extra, err := cfg.ExtraRunArgs()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid run settings", err)
	}

	opts := &Options{
		Engine:      cfg.Engine,
		Image:       cfg.Image.Tag,
		Tool:        tool,
		Args:        args,
		SetEnv:      map[string]string{},
		Interactive: true,
		TTY:         host.Terminal,
		Labels:      image.RunLabels(tool),
		ExtraArgs:   extra,
	}

	for _, mc := range cfg.Run.Mounts {
		src, err := config.ExpandHome(mc.Source)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError, "invalid mount source", err)
		}
		if _, err := host.Stat(src); err != nil {
			log.Debug().Str("source", src).Msg("skipping mount of missing host path")
			continue
		}
		m := model.Mount{Source: src, Target: mc.Target, ReadOnly: mc.ReadOnly}
		if err := m.Validate(); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError, "invalid mount", err)
		}
		opts.Mounts = append(opts.Mounts, m)
	}

	sshSock, hasSSH := host.LookupEnv("SSH_AUTH_SOCK")
	forwardAgent := cfg.Run.ForwardSSHAgent && hasSSH && sshSock != ""

	for _, name := range cfg.Run.Env {
		if name == "SSH_AUTH_SOCK" && forwardAgent {
			continue
		}
		if _, ok := host.LookupEnv(name); ok {
			opts.PassEnv = append(opts.PassEnv, name)
		}
	}

	if forwardAgent {
		if host.GOOS == "darwin" {
			opts.Mounts = append(opts.Mounts, model.Mount{Source: dockerDesktopSSHSocket, Target: dockerDesktopSSHSocket})
			opts.SetEnv["SSH_AUTH_SOCK"] = dockerDesktopSSHSocket
		} else if _, err := host.Stat(sshSock); err == nil && filepath.IsAbs(sshSock) {
			opts.Mounts = append(opts.Mounts, model.Mount{Source: sshSock, Target: sshSock})
			opts.SetEnv["SSH_AUTH_SOCK"] = sshSock
		} else {
			log.Debug().Str("socket", sshSock).Msg("SSH agent socket not found; not forwarding")
		}
	}

	if cfg.Run.MountWorkdir {
		cwd, err := host.Getwd()
		if err != nil {
			return nil, model.WrapCLIError(model.ExitGeneralError, "cannot determine working directory", err)
		}
		opts.Mounts = append(opts.Mounts, model.Mount{Source: cwd, Target: cfg.Run.Workdir})
		opts.Workdir = cfg.Run.Workdir
		opts.SetEnv["ASIAQ_CONFIG"] = cfg.Run.Workdir
	}

	return opts, nil
}

// Stdio carries the streams a tool is attached to.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// sharesTerminal reports whether any of the streams is a terminal.
func (s Stdio) sharesTerminal() bool {
	for _, v := range []any{s.In, s.Out, s.Err} {
		if f, ok := v.(*os.File); ok && f != nil {
			if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
				return true
			}
		}
	}
	return false
}

// Run executes the planned invocation and returns the tool's exit code.
//
// Interrupt and terminate signals received while the tool runs are relayed
// to the engine CLI instead of killing this process, so the container gets
// a chance to shut down. An engine killed by a signal yields 128 plus the
// signal number. A non-nil error means the engine could not be started at
// all.
func Run(ctx context.Context, opts *Options, stdio Stdio) (int, error) {
	enginePath, err := exec.LookPath(opts.Engine)
	if err != nil {
		return int(model.ExitDockerNotRunning), model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("container engine %q not found on PATH", opts.Engine),
			err,
		)
	}

	args := BuildRunArgs(*opts)
	log.Debug().Str("command", shellquote.Join(append([]string{opts.Engine}, args...)...)).Msg("running tool")

	// #nosec G204 -- the tool name is validated and args are the user's own
	cmd := exec.Command(enginePath, args...)
	cmd.Stdin = stdio.In
	cmd.Stdout = stdio.Out
	cmd.Stderr = stdio.Err
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return int(model.ExitDockerNotRunning), model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start %s", opts.Engine),
			err,
		)
	}

	// The engine runs in our process group. When that group owns a terminal,
	// Ctrl-C already reaches the engine directly, and relaying SIGINT as well
	// would make the engine CLI see a second interrupt and force-kill the
	// container. SIGTERM is only ever sent to us, so it is always relayed.
	relayInterrupt := !stdio.sharesTerminal()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-sigs:
				if s == os.Interrupt && !relayInterrupt {
					log.Debug().Msg("interrupt delivered by the terminal; not relaying")
					continue
				}
				_ = cmd.Process.Signal(s)
			case <-ctx.Done():
				_ = cmd.Process.Signal(os.Interrupt)
				return
			case <-done:
				return
			}
		}
	}()

	err = cmd.Wait()
	close(done)
	signal.Stop(sigs)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitStatus(exitErr), nil
		}
		return int(model.ExitGeneralError), model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("%s run failed", opts.Engine), err)
	}
	return 0, nil
}

// exitStatus maps a finished engine process onto the status a shell would
// report: the exit code, or 128 plus the signal number when the engine was
// killed by a signal (ExitCode reports -1 in that case).
func exitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// Invocation is a tool call decoded from a process argument vector.
type Invocation struct {
	Tool string
	Args []string
}

// ParseInvocation decodes argv (as in os.Args) when the process was started
// through an alias. It returns false when started as the binary itself.
func ParseInvocation(argv []string) (Invocation, bool) {
	if len(argv) == 0 {
		return Invocation{}, false
	}
	tool, ok := ToolFromArgv0(argv[0])
	if !ok {
		return Invocation{}, false
	}
	return Invocation{Tool: tool, Args: argv[1:]}, true
}

// ToolFromArgv0 returns the tool an alias was invoked as. The second result
// is false when argv0 names the multi-call binary itself.
func ToolFromArgv0(argv0 string) (string, bool) {
	base := filepath.Base(argv0)
	base = strings.TrimSuffix(base, ".exe")
	if base == "" || base == "." || base == model.BinaryName {
		return "", false
	}
	return base, true
}
