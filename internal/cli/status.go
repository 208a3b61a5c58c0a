// Package cli: status.go implements the "asiaq-container status" command.
//
// Status is a diagnostic: every check is reported even when an earlier one
// fails, and the command itself only fails when the config is unusable.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/asiaq-container/internal/alias"
	"github.com/shinji-kodama/asiaq-container/internal/docker"
	"github.com/shinji-kodama/asiaq-container/internal/image"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// NewStatusCommand creates the "status" cobra command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Docker, image and link status",
		Long: `Report whether the Docker daemon is reachable, whether the toolkit image
has been built (and from which toolkit version), and the state of the
bin directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := collectStatus(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}
}

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	Docker struct {
		Reachable bool   `json:"reachable"`
		Version   string `json:"version,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"docker"`

	Image struct {
		Tag     string           `json:"tag"`
		Present bool             `json:"present"`
		Info    *model.ImageInfo `json:"info,omitempty"`
		Spec    *model.ImageSpec `json:"spec,omitempty"`
		Error   string           `json:"error,omitempty"`
	} `json:"image"`

	Links struct {
		BinDir string `json:"binDir"`
		OnPath bool   `json:"onPath"`
		Count  int    `json:"count"`
	} `json:"links"`
}

func collectStatus(ctx context.Context) (*statusOutput, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}

	st := &statusOutput{}
	st.Image.Tag = cfg.Image.Tag

	linker, err := newLinker(cfg)
	if err != nil {
		return nil, err
	}
	st.Links.BinDir = linker.BinDir
	st.Links.OnPath = alias.InPath(linker.BinDir, os.Getenv("PATH"))
	if aliases, err := linker.List(); err == nil {
		st.Links.Count = len(aliases)
	} else {
		log.Debug().Err(err).Msg("failed to list links")
	}

	cli, err := docker.NewClient()
	if err != nil {
		st.Docker.Error = err.Error()
		return st, nil
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		st.Docker.Error = err.Error()
		return st, nil
	}
	st.Docker.Reachable = true
	if v, err := cli.ServerVersion(ctx); err == nil {
		st.Docker.Version = v
	}

	info, err := docker.InspectImage(ctx, cli, cfg.Image.Tag)
	if err != nil {
		st.Image.Error = err.Error()
		return st, nil
	}
	st.Image.Present = true
	st.Image.Info = info

	spec, err := image.ParseLabels(info.Labels)
	if err != nil {
		st.Image.Error = fmt.Sprintf("image was not built by %s: %v", model.BinaryName, err)
		return st, nil
	}
	spec.Tag = cfg.Image.Tag
	st.Image.Spec = spec
	return st, nil
}

func printStatus(st *statusOutput) {
	if IsJSONOutput() {
		printJSON(st)
		return
	}
	fmt.Print(FormatStatus(st))
}

// FormatStatus renders st as an indented text report.
func FormatStatus(st *statusOutput) string {
	var b strings.Builder

	b.WriteString("Docker:\n")
	if st.Docker.Reachable {
		fmt.Fprintf(&b, "  reachable (version %s)\n", valueOrDash(st.Docker.Version))
	} else {
		fmt.Fprintf(&b, "  not reachable: %s\n", st.Docker.Error)
	}

	fmt.Fprintf(&b, "Image %s:\n", st.Image.Tag)
	switch {
	case st.Image.Present:
		info := st.Image.Info
		fmt.Fprintf(&b, "  id:      %s\n", shortID(info.ID))
		if !info.Created.IsZero() {
			fmt.Fprintf(&b, "  created: %s (%s)\n", info.Created.Format(time.RFC3339), humanize.Time(info.Created))
		}
		fmt.Fprintf(&b, "  size:    %s\n", FormatSize(info.SizeBytes))
		if spec := st.Image.Spec; spec != nil {
			fmt.Fprintf(&b, "  python:  %s\n", spec.PythonVersion)
			ref := spec.AsiaqRef
			if spec.AsiaqCommit != "" {
				ref += " @ " + shortID(spec.AsiaqCommit)
			}
			fmt.Fprintf(&b, "  asiaq:   %s (%s)\n", ref, spec.AsiaqRepo)
		}
		if st.Image.Error != "" {
			fmt.Fprintf(&b, "  warning: %s\n", st.Image.Error)
		}
	case !st.Docker.Reachable:
		b.WriteString("  unknown\n")
	default:
		b.WriteString("  not built\n")
	}

	fmt.Fprintf(&b, "Links in %s:\n", st.Links.BinDir)
	fmt.Fprintf(&b, "  %d linked\n", st.Links.Count)
	if !st.Links.OnPath {
		b.WriteString("  warning: directory is not on PATH\n")
	}
	return b.String()
}

// FormatSize renders a byte count with a binary unit suffix.
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
