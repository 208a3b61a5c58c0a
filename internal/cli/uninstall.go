// Package cli: uninstall.go implements the "asiaq-container uninstall"
// command, the reverse of install: every managed link is removed, then the
// toolkit image.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/docker"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// uninstallFlags holds the flag values for the uninstall command.
type uninstallFlags struct {
	keepImage bool // --keep-image: only remove links
	force     bool // --force: remove the image even if containers use it
}

// NewUninstallCommand creates the "uninstall" cobra command.
func NewUninstallCommand() *cobra.Command {
	flags := &uninstallFlags{}

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove all toolkit links and the toolkit image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}

			linker, err := newLinker(cfg)
			if err != nil {
				return err
			}
			aliases, err := linker.Unlink(nil)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to unlink tools", err)
			}

			imageRemoved := false
			if !flags.keepImage {
				cli, err := docker.NewClient()
				if err != nil {
					return err
				}
				defer func() { _ = cli.Close() }()

				imageRemoved, err = removeImageIfPresent(cmd.Context(), cli, cfg.Image.Tag, flags.force)
				if err != nil {
					return err
				}
			}

			if IsJSONOutput() {
				printJSON(struct {
					Aliases      []model.Alias `json:"aliases"`
					Image        string        `json:"image"`
					ImageRemoved bool          `json:"imageRemoved"`
				}{aliases, cfg.Image.Tag, imageRemoved})
				return nil
			}
			fmt.Print(FormatLinkSummary(aliases))
			if imageRemoved {
				fmt.Printf("Removed image %s\n", cfg.Image.Tag)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.keepImage, "keep-image", false, "Keep the toolkit image")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Force removal of the image")
	return cmd
}

// removeImageIfPresent deletes tag and reports whether anything was removed.
// An image that is already gone is not an error for uninstall.
func removeImageIfPresent(ctx context.Context, cli *docker.Client, tag string, force bool) (bool, error) {
	if err := cli.Ping(ctx); err != nil {
		return false, err
	}
	exists, err := docker.ImageExists(ctx, cli, tag)
	if err != nil {
		return false, err
	}
	if !exists {
		log.Debug().Str("image", tag).Msg("image already absent")
		return false, nil
	}
	if err := docker.RemoveImage(ctx, cli, tag, force); err != nil {
		return false, err
	}
	return true, nil
}
