// Package cli: config.go implements "asiaq-container config show" and
// "asiaq-container config init".
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// NewConfigCommand creates the "config" parent command.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after applying defaults, the config file and
ASIAQ_CONTAINER_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if IsJSONOutput() {
				printJSON(cfg)
				return nil
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to render config", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write the default configuration as YAML to the --config path, or to
$XDG_CONFIG_HOME/asiaq-container/config.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if path == "" {
				dir, err := config.Dir()
				if err != nil {
					return model.WrapCLIError(model.ExitConfigError, "cannot determine config directory", err)
				}
				path = filepath.Join(dir, "config.yaml")
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			if IsJSONOutput() {
				printJSON(map[string]string{"path": path})
				return nil
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
