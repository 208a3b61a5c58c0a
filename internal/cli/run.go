// Package cli: run.go implements tool execution, both as the explicit
// "asiaq-container run TOOL" command and as the multi-call alias mode used
// when the binary is started through a symlink.
package cli

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/runner"
)

// NewRunCommand creates the "run" cobra command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run TOOL [ARGS...]",
		Short: "Run a toolkit command inside the image",
		Long: `Run a toolkit command inside the image without going through a link.

Everything after the tool name is passed to the tool unchanged. The
process exits with the tool's exit status.

Examples:
  asiaq-container run disco_aws.py listhosts
  asiaq-container run asiaq --help`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			code, err := executeTool(cmd.Context(), cfg, args[0], args[1:])
			if err != nil {
				return err
			}
			if code != 0 {
				return &toolExit{code: code}
			}
			return nil
		},
	}

	// Stop flag parsing at the tool name so "run asiaq --help" reaches the tool.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// stdioIsTerminal reports whether both stdin and stdout are terminals, the
// condition for allocating a TTY in the container.
func stdioIsTerminal() bool {
	isTerm := func(fd uintptr) bool {
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return isTerm(os.Stdin.Fd()) && isTerm(os.Stdout.Fd())
}

// executeTool plans and runs tool with args, returning its exit status.
func executeTool(ctx context.Context, cfg *config.Config, tool string, args []string) (int, error) {
	opts, err := runner.Plan(cfg, tool, args, runner.CurrentHost(stdioIsTerminal()))
	if err != nil {
		return 0, err
	}
	return runner.Run(ctx, opts, runner.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
}

// RunAlias executes inv in alias mode and returns the process exit code.
// No flags are parsed: every argument belongs to the tool, so logging and
// the config file are controlled through the environment.
func RunAlias(ctx context.Context, inv runner.Invocation) int {
	setupLogging(os.Stderr, os.Getenv(verboseEnv) != "")
	configFile = os.Getenv(configFileEnv)

	cfg, err := loadConfig(nil)
	if err != nil {
		return exitCode(err)
	}

	log.Debug().Str("tool", inv.Tool).Strs("args", inv.Args).Msg("alias invocation")
	code, err := executeTool(ctx, cfg, inv.Tool, inv.Args)
	if err != nil {
		return exitCode(err)
	}
	return code
}
