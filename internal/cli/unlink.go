// Package cli: unlink.go implements the "asiaq-container unlink" command.
//
// Only symlinks that point at this binary are removed; anything else in
// the bin directory is reported as skipped and left untouched.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/alias"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// unlinkFlags holds the flag values for the unlink command.
type unlinkFlags struct {
	binDir string // --bin-dir: directory the symlinks live in
}

// NewUnlinkCommand creates the "unlink" cobra command.
func NewUnlinkCommand() *cobra.Command {
	flags := &unlinkFlags{}

	cmd := &cobra.Command{
		Use:   "unlink [TOOL...]",
		Short: "Remove toolkit command links",
		Long: `Remove links created by "link". Without arguments every link pointing at
this binary is removed.

Examples:
  asiaq-container unlink
  asiaq-container unlink disco_aws.py disco_vpc.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			aliases, err := linker.Unlink(args)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to unlink tools", err)
			}

			printLinkResult(&linkOutput{
				BinDir:  linker.BinDir,
				OnPath:  alias.InPath(linker.BinDir, os.Getenv("PATH")),
				Aliases: aliases,
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.binDir, "bin-dir", "", "Directory the links live in (default: ~/.local/bin)")
	return cmd
}
