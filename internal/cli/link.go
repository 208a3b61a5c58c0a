// Package cli: link.go implements the "asiaq-container link" command.
//
// The link command discovers the toolkit's executables and creates one
// symlink per executable in the bin directory, each pointing at this
// binary. Tools are discovered by scanning the image by default, or a
// local directory with --from-dir.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/alias"
	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/docker"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// linkFlags holds the flag values for the link command.
type linkFlags struct {
	fromDir string // --from-dir: scan a local directory instead of the image
	force   bool   // --force: replace files not owned by asiaq-container
	binDir  string // --bin-dir: directory the symlinks are written to
}

func registerLinkFlags(cmd *cobra.Command, flags *linkFlags) {
	cmd.Flags().StringVar(&flags.fromDir, "from-dir", "", "Discover tools in a local directory instead of the image")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Replace existing files that are not links to this binary")
	cmd.Flags().StringVar(&flags.binDir, "bin-dir", "", "Directory to create links in (default: ~/.local/bin)")
}

func (f *linkFlags) overrides() map[string]any {
	o := map[string]any{}
	if f.binDir != "" {
		o["bin_dir"] = f.binDir
	}
	return o
}

// NewLinkCommand creates the "link" cobra command.
func NewLinkCommand() *cobra.Command {
	flags := &linkFlags{}

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link every toolkit command into the bin directory",
		Long: `Create a symlink to this binary for every executable the toolkit ships.

Running a linked command runs the same-named tool inside the image.
Existing links are left unchanged. Files that are not links to this
binary are skipped unless --force is given.

Examples:
  asiaq-container link
  asiaq-container link --bin-dir ~/bin
  asiaq-container link --from-dir ./asiaq/bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.overrides())
			if err != nil {
				return err
			}
			result, err := linkTools(cmd.Context(), cfg, flags)
			if err != nil {
				return err
			}
			printLinkResult(result)
			return nil
		},
	}

	registerLinkFlags(cmd, flags)
	return cmd
}

// linkOutput is the result of a link or unlink run.
type linkOutput struct {
	BinDir  string        `json:"binDir"`
	OnPath  bool          `json:"onPath"`
	Aliases []model.Alias `json:"aliases"`
}

// discoverTools returns the tool names to link.
func discoverTools(ctx context.Context, cfg *config.Config, fromDir string) ([]string, error) {
	if fromDir != "" {
		log.Debug().Str("dir", fromDir).Msg("scanning local tool directory")
		tools, err := alias.ScanDir(fromDir)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitGeneralError, "failed to scan tool directory", err)
		}
		return tools, nil
	}

	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return nil, err
	}

	log.Debug().Str("image", cfg.Image.Tag).Str("dir", cfg.Image.ToolDir).Msg("scanning image for tools")
	return docker.ListImageTools(ctx, cli, cfg.Image.Tag, cfg.Image.ToolDir)
}

// newLinker builds a Linker for the configured bin dir targeting the
// running executable.
func newLinker(cfg *config.Config) (*alias.Linker, error) {
	binDir, err := cfg.ResolvedBinDir()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid bin dir", err)
	}
	self, err := alias.SelfPath()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "cannot determine link target", err)
	}
	l, err := alias.NewLinker(binDir, self)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid bin dir", err)
	}
	return l, nil
}

// linkTools is shared by link and install.
func linkTools(ctx context.Context, cfg *config.Config, flags *linkFlags) (*linkOutput, error) {
	tools, err := discoverTools(ctx, cfg, flags.fromDir)
	if err != nil {
		return nil, err
	}
	if len(tools) == 0 {
		return nil, model.NewCLIError(model.ExitToolNotFound, "no toolkit executables found")
	}

	linker, err := newLinker(cfg)
	if err != nil {
		return nil, err
	}

	aliases, err := linker.Link(tools, flags.force)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to link tools", err)
	}

	onPath := warnIfNotOnPath(linker.BinDir)
	return &linkOutput{BinDir: linker.BinDir, OnPath: onPath, Aliases: aliases}, nil
}

// warnIfNotOnPath logs an advisory warning when binDir is missing from PATH.
// The result never affects the exit status.
func warnIfNotOnPath(binDir string) bool {
	if alias.InPath(binDir, os.Getenv("PATH")) {
		return true
	}
	log.Warn().Str("dir", binDir).Msg("bin dir is not on your PATH; add it to run the linked tools by name")
	return false
}

func printLinkResult(out *linkOutput) {
	if IsJSONOutput() {
		printJSON(out)
		return
	}
	fmt.Print(FormatLinkSummary(out.Aliases))
}

// FormatLinkSummary renders per-alias outcomes followed by a count line,
// e.g. "3 created, 1 unchanged, 1 skipped".
func FormatLinkSummary(aliases []model.Alias) string {
	var b strings.Builder
	counts := map[model.LinkState]int{}
	for _, a := range aliases {
		counts[a.State]++
		if a.State == model.LinkUnchanged {
			continue
		}
		fmt.Fprintf(&b, "  %-9s %s", a.State, a.Name)
		if a.Note != "" {
			fmt.Fprintf(&b, " (%s)", a.Note)
		}
		b.WriteString("\n")
	}

	order := []model.LinkState{model.LinkCreated, model.LinkReplaced, model.LinkRemoved, model.LinkUnchanged, model.LinkSkipped}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(parts) == 0 {
		b.WriteString("Nothing to do\n")
	} else {
		b.WriteString(strings.Join(parts, ", ") + "\n")
	}
	return b.String()
}
