// build.go implements the toolkit image build through the Docker Engine API.
//
// The daemon answers a build with a stream of JSON progress messages. Every
// message is decoded and its text kept in a capture buffer, because when the
// build fails the user needs to see the log that led up to the failure even
// if nothing was streamed to the terminal.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/image"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// BuildResult describes a successful build.
type BuildResult struct {
	// ImageID is the ID reported by the daemon's aux message ("sha256:...").
	ImageID string `json:"imageId,omitempty"`

	// Tag is the reference the image was tagged with.
	Tag string `json:"tag"`

	// Output is the captured build log.
	Output string `json:"-"`
}

// BuildImage builds the embedded recipe into spec.Tag. When out is non-nil
// the build log is streamed to it as it arrives; it is always captured.
//
// A failed build returns a model.CLIError with ExitBuildFailed whose Output
// field carries the captured log.
func BuildImage(ctx context.Context, cli *Client, spec model.ImageSpec, out io.Writer) (*BuildResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid image settings", err)
	}

	buildCtx, err := image.Context()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to prepare build context", err)
	}

	log.Debug().
		Str("tag", spec.Tag).
		Str("python", spec.PythonVersion).
		Str("asiaq_ref", spec.AsiaqRef).
		Str("asiaq_commit", spec.AsiaqCommit).
		Bool("no_cache", spec.NoCache).
		Msg("starting image build")

	resp, err := cli.Inner().ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  image.DockerfileName,
		BuildArgs:   image.BuildArgs(spec),
		Labels:      image.BuildLabels(spec),
		NoCache:     spec.NoCache,
		Remove:      true,
		ForceRemove: true,
		PullParent:  spec.NoCache,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start build of %s", spec.Tag),
			err,
		)
	}
	defer resp.Body.Close()

	imageID, captured, err := decodeBuildStream(resp.Body, out)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitBuildFailed,
			fmt.Sprintf("build of %s failed", spec.Tag),
			err,
		).WithOutput(captured)
	}

	return &BuildResult{ImageID: imageID, Tag: spec.Tag, Output: captured}, nil
}

// buildAux is the payload of the aux message the daemon sends once the
// final image is written.
type buildAux struct {
	ID string `json:"ID"`
}

// decodeBuildStream reads the daemon's JSON message stream until EOF.
// It returns the built image ID (when reported), the captured text, and
// the first error message the daemon sent. A truncated or malformed stream
// is an error too.
func decodeBuildStream(r io.Reader, out io.Writer) (string, string, error) {
	var captured bytes.Buffer
	sink := io.Writer(&captured)
	if out != nil {
		sink = io.MultiWriter(&captured, out)
	}

	dec := json.NewDecoder(r)
	var imageID string
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return imageID, captured.String(), fmt.Errorf("malformed build output: %w", err)
		}

		if msg.Error != nil {
			fmt.Fprintln(sink, msg.Error.Message)
			return imageID, captured.String(), errors.New(strings.TrimSpace(msg.Error.Message))
		}

		switch {
		case msg.Stream != "":
			fmt.Fprint(sink, msg.Stream)
		case msg.Status != "":
			line := msg.Status
			if msg.ID != "" {
				line = msg.ID + ": " + line
			}
			fmt.Fprintln(sink, line)
		}

		if msg.Aux != nil {
			var aux buildAux
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
				imageID = aux.ID
			}
		}
	}

	return imageID, captured.String(), nil
}
