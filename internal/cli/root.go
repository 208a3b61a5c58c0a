// Package cli implements the cobra-based CLI commands for asiaq-container.
//
// Each subcommand (build, link, install, unlink, uninstall, list, run,
// status, config) is defined in its own file within this package. This file
// defines the root command that serves as the parent for all subcommands and
// handles global flags, logging setup and error reporting.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// configFileEnv names the variable that selects a config file when the
// --config flag is not available, as in alias mode.
const configFileEnv = "ASIAQ_CONTAINER_CONFIG"

// verboseEnv enables debug logging in alias mode, where every argument
// belongs to the tool and -v cannot be used.
const verboseEnv = "ASIAQ_CONTAINER_VERBOSE"

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// configFile forces a specific config file instead of the default lookup.
	configFile string
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It only provides
// help text and global flags.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   model.BinaryName,
		Short: "Run the Asiaq AWS toolkit from a container image",
		Long: `asiaq-container builds a container image holding the Asiaq toolkit and
exposes every toolkit command as a local command.

Each command is a symlink to this binary. When invoked through a symlink,
the same-named tool runs inside the image with your AWS configuration,
selected environment variables, SSH agent and working directory forwarded.

Getting started:
  asiaq-container install      # build the image and link all tools
  disco_aws.py listhosts       # runs inside the container`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(os.Stderr, verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv(configFileEnv),
		"Config file (default: $XDG_CONFIG_HOME/asiaq-container/config.yaml)")

	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewLinkCommand())
	rootCmd.AddCommand(NewInstallCommand())
	rootCmd.AddCommand(NewUnlinkCommand())
	rootCmd.AddCommand(NewUninstallCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// setupLogging configures the global zerolog logger: human-readable console
// output on w, info level unless debug is requested.
//
// Logs always go to stderr in production so that stdout carries only the
// command's result, which keeps --json output machine-readable.
func setupLogging(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// toolExit carries a containerised tool's exit status out of a command.
// It is not an error condition of this program, so nothing is printed.
type toolExit struct {
	code int
}

func (e *toolExit) Error() string {
	return fmt.Sprintf("tool exited with status %d", e.code)
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError types carry their own exit codes; other errors default to
// exit code 1.
func Execute(rootCmd *cobra.Command) {
	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode reports err to stderr and maps it to a process exit code.
//
// The mapping is checked in order:
//  1. nil is success.
//  2. toolExit carries a containerised tool's status, which is passed
//     through unchanged and without a message since the tool printed its
//     own.
//  3. CLIError carries its own exit code and any captured output.
//  4. Anything else (including cobra's usage errors) is a general error.
func exitCode(err error) int {
	if err == nil {
		return int(model.ExitSuccess)
	}

	var te *toolExit
	if errors.As(err, &te) {
		return te.code
	}

	// errors.As unwraps through fmt.Errorf("%w") chains, so a CLIError
	// wrapped by an intermediate layer still selects its exit code.
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(os.Stderr, cliErr.Message, cliErr.Err, cliErr.Output)
		return int(cliErr.Code)
	}

	printError(os.Stderr, err.Error(), nil, "")
	return int(model.ExitGeneralError)
}

// printError outputs an error message in the appropriate format (JSON or
// text) based on the --json global flag. Captured output such as a failed
// build log is printed before the message so the cause stays on screen.
func printError(w io.Writer, message string, underlying error, output string) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"message": message,
		}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		if output != "" {
			errObj["output"] = output
		}
		// stderr is used for errors even in JSON mode; stdout is reserved
		// for successful command output.
		data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if output != "" {
		fmt.Fprint(w, output)
		if output[len(output)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig resolves the effective configuration. overrides are dotted
// config keys set from command flags.
//
// The layers apply in increasing priority: built-in defaults, the config
// file (--config, $ASIAQ_CONTAINER_CONFIG, or the XDG default), then
// ASIAQ_CONTAINER_* environment variables, then overrides.
func loadConfig(overrides map[string]any) (*config.Config, error) {
	cfg, path, err := config.Load(config.LoadOptions{
		ConfigFile: configFile,
		Overrides:  overrides,
	})
	if err != nil {
		return nil, err
	}
	if path == "" {
		log.Debug().Msg("no config file found; using defaults")
	}
	return cfg, nil
}
