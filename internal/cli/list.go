// Package cli: list.go implements the "asiaq-container list" command.
//
// The list command shows the links in the bin directory that point at this
// binary. The links are the only record of which tools are installed, so
// nothing but the filesystem is consulted.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	binDir string // --bin-dir: directory the symlinks live in
}

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List linked toolkit commands",
		Long: `List the toolkit commands linked into the bin directory.

Examples:
  asiaq-container list
  asiaq-container list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(flags)
		},
	}

	cmd.Flags().StringVar(&flags.binDir, "bin-dir", "", "Directory the links live in (default: ~/.local/bin)")
	return cmd
}

func runList(flags *listFlags) error {
	overrides := map[string]any{}
	if flags.binDir != "" {
		overrides["bin_dir"] = flags.binDir
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}

	linker, err := newLinker(cfg)
	if err != nil {
		return err
	}
	aliases, err := linker.List()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to list links", err)
	}

	if IsJSONOutput() {
		printJSON(struct {
			BinDir  string        `json:"binDir"`
			Aliases []model.Alias `json:"aliases"`
		}{linker.BinDir, aliases})
		return nil
	}

	if len(aliases) == 0 {
		fmt.Printf("No tools linked in %s (run \"%s link\")\n", linker.BinDir, model.BinaryName)
		return nil
	}
	fmt.Print(FormatAliasTable(aliases))
	return nil
}

// FormatAliasTable renders aliases as a two-column table of tool name and
// link path, with the name column padded to the longest name.
func FormatAliasTable(aliases []model.Alias) string {
	width := len("TOOL")
	for _, a := range aliases {
		if len(a.Name) > width {
			width = len(a.Name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s  %s\n", width, "TOOL", "PATH")
	for _, a := range aliases {
		fmt.Fprintf(&b, "%-*s  %s\n", width, a.Name, a.Path)
	}
	return b.String()
}
