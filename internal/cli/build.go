// Package cli: build.go implements the "asiaq-container build" command.
//
// The build command renders the embedded recipe into an image through the
// Docker Engine API. When enabled, the toolkit ref is first pinned to a
// commit so that a moved branch invalidates the clone layer.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/config"
	"github.com/shinji-kodama/asiaq-container/internal/docker"
	"github.com/shinji-kodama/asiaq-container/internal/gitref"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// buildFlags holds the flag values for the build command.
type buildFlags struct {
	tag           string // --tag: image reference to build
	pythonVersion string // --python-version: interpreter version to compile
	asiaqRepo     string // --asiaq-repo: toolkit git repository
	asiaqRef      string // --asiaq-ref: toolkit branch, tag or commit
	noCache       bool   // --no-cache: rebuild every layer
	quiet         bool   // --quiet: do not stream the build log
}

// overrides returns the config keys explicitly set by flags.
func (f *buildFlags) overrides() map[string]any {
	o := map[string]any{}
	if f.tag != "" {
		o["image.tag"] = f.tag
	}
	if f.pythonVersion != "" {
		o["image.python_version"] = f.pythonVersion
	}
	if f.asiaqRepo != "" {
		o["image.asiaq_repo"] = f.asiaqRepo
	}
	if f.asiaqRef != "" {
		o["image.asiaq_ref"] = f.asiaqRef
	}
	return o
}

func registerBuildFlags(cmd *cobra.Command, flags *buildFlags) {
	cmd.Flags().StringVar(&flags.tag, "tag", "", "Image tag to build (default: asiaq:latest)")
	cmd.Flags().StringVar(&flags.pythonVersion, "python-version", "", "Python version to build into the image")
	cmd.Flags().StringVar(&flags.asiaqRepo, "asiaq-repo", "", "Git repository of the Asiaq toolkit")
	cmd.Flags().StringVar(&flags.asiaqRef, "asiaq-ref", "", "Toolkit branch, tag or commit to install")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Do not use the build cache")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Only print the build log on failure")
}

// NewBuildCommand creates the "build" cobra command.
func NewBuildCommand() *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the toolkit image",
		Long: `Build the container image holding the Asiaq toolkit.

The recipe is embedded in this binary. The build log is streamed to stderr;
with --quiet it is only printed when the build fails.

Examples:
  asiaq-container build
  asiaq-container build --asiaq-ref v2.3.0 --tag asiaq:2.3.0
  asiaq-container build --no-cache`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runBuild(cmd.Context(), flags)
			if err != nil {
				return err
			}
			printBuildResult(result)
			return nil
		},
	}

	registerBuildFlags(cmd, flags)
	return cmd
}

// buildOutput is the result of a successful build as shown to the user.
type buildOutput struct {
	Tag           string `json:"tag"`
	ImageID       string `json:"imageId,omitempty"`
	PythonVersion string `json:"pythonVersion"`
	AsiaqRef      string `json:"asiaqRef"`
	AsiaqCommit   string `json:"asiaqCommit,omitempty"`
}

// runBuild loads the config, pins the toolkit ref and builds the image.
func runBuild(ctx context.Context, flags *buildFlags) (*buildOutput, error) {
	cfg, err := loadConfig(flags.overrides())
	if err != nil {
		return nil, err
	}
	return buildImage(ctx, cfg, flags.noCache, flags.quiet)
}

// buildImage is shared by build and install.
func buildImage(ctx context.Context, cfg *config.Config, noCache, quiet bool) (*buildOutput, error) {
	spec := cfg.ImageSpec()
	spec.NoCache = noCache
	spec.BuiltAt = time.Now().UTC()

	if cfg.Image.ResolveRef {
		commit, err := gitref.NewResolver().Resolve(ctx, spec.AsiaqRepo, spec.AsiaqRef)
		if err != nil {
			// The daemon can still clone the ref; we only lose the cache key.
			log.Warn().Err(err).Str("ref", spec.AsiaqRef).Msg("could not resolve toolkit ref; building without a pinned commit")
		} else {
			spec.AsiaqCommit = commit
		}
	}

	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return nil, err
	}

	var progress io.Writer
	if !quiet {
		progress = os.Stderr
	}

	log.Info().Str("tag", spec.Tag).Str("asiaq_ref", spec.AsiaqRef).Msg("building image")
	result, err := runImageBuild(ctx, spec, progress, func(ctx context.Context, spec model.ImageSpec, out io.Writer) (*docker.BuildResult, error) {
		return docker.BuildImage(ctx, cli, spec, out)
	})
	if err != nil {
		return nil, err
	}

	return &buildOutput{
		Tag:           result.Tag,
		ImageID:       result.ImageID,
		PythonVersion: spec.PythonVersion,
		AsiaqRef:      spec.AsiaqRef,
		AsiaqCommit:   spec.AsiaqCommit,
	}, nil
}

// imageBuilder performs the daemon side of a build, streaming the log to
// out when it is non-nil.
type imageBuilder func(ctx context.Context, spec model.ImageSpec, out io.Writer) (*docker.BuildResult, error)

// runImageBuild runs build and makes sure a failed build log reaches the
// user exactly once: a log that was streamed to progress is dropped from
// the error, while a quiet build keeps it for printError.
func runImageBuild(ctx context.Context, spec model.ImageSpec, progress io.Writer, build imageBuilder) (*docker.BuildResult, error) {
	result, err := build(ctx, spec, progress)
	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) && progress != nil {
			cliErr.Output = ""
		}
		return nil, err
	}
	return result, nil
}

func printBuildResult(out *buildOutput) {
	if IsJSONOutput() {
		printJSON(out)
		return
	}
	fmt.Printf("Built %s", out.Tag)
	if out.ImageID != "" {
		fmt.Printf(" (%s)", shortID(out.ImageID))
	}
	fmt.Println()
	ref := out.AsiaqRef
	if out.AsiaqCommit != "" {
		ref = fmt.Sprintf("%s @ %s", out.AsiaqRef, shortID(out.AsiaqCommit))
	}
	fmt.Printf("  Python: %s\n  Asiaq:  %s\n", out.PythonVersion, ref)
}

// shortID truncates an image ID or commit hash for display, dropping any
// "sha256:" style prefix.
func shortID(id string) string {
	if _, after, ok := strings.Cut(id, ":"); ok {
		id = after
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
