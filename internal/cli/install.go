// Package cli: install.go implements the "asiaq-container install" command,
// which builds the image and then links every tool it contains.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInstallCommand creates the "install" cobra command.
func NewInstallCommand() *cobra.Command {
	bFlags := &buildFlags{}
	lFlags := &linkFlags{}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Build the image and link every toolkit command",
		Long: `Build the toolkit image, then link every executable it ships.

This is equivalent to running "build" followed by "link" and accepts the
flags of both.

Examples:
  asiaq-container install
  asiaq-container install --asiaq-ref develop --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := bFlags.overrides()
			for k, v := range lFlags.overrides() {
				overrides[k] = v
			}
			cfg, err := loadConfig(overrides)
			if err != nil {
				return err
			}

			built, err := buildImage(cmd.Context(), cfg, bFlags.noCache, bFlags.quiet)
			if err != nil {
				return err
			}
			linked, err := linkTools(cmd.Context(), cfg, lFlags)
			if err != nil {
				return err
			}

			if IsJSONOutput() {
				printJSON(struct {
					Build *buildOutput `json:"build"`
					Link  *linkOutput  `json:"link"`
				}{built, linked})
				return nil
			}
			printBuildResult(built)
			fmt.Println()
			printLinkResult(linked)
			return nil
		},
	}

	registerBuildFlags(cmd, bFlags)
	registerLinkFlags(cmd, lFlags)
	return cmd
}
