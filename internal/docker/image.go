// image.go implements inspection and removal of the toolkit image, and the
// discovery of the executables the toolkit ships inside it.
package docker

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/image"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// InspectImage returns the daemon's metadata for tag.
//
// Returns a model.CLIError with ExitImageNotFound when the tag does not
// exist, so callers can suggest running "build".
func InspectImage(ctx context.Context, cli *Client, tag string) (*model.ImageInfo, error) {
	resp, err := cli.Inner().ImageInspect(ctx, tag)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, model.NewCLIError(
				model.ExitImageNotFound,
				fmt.Sprintf("image %s not found (run \"%s build\" first)", tag, model.BinaryName),
			)
		}
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to inspect image %s", tag),
			err,
		)
	}

	var labels map[string]string
	if resp.Config != nil {
		labels = resp.Config.Labels
	}
	return inspectToInfo(tag, resp.ID, resp.Created, resp.Size, labels), nil
}

// inspectToInfo maps inspect fields onto the domain type. The daemon reports
// Created as an RFC3339Nano string; an unparseable value leaves it zero.
func inspectToInfo(tag, id, created string, size int64, labels map[string]string) *model.ImageInfo {
	info := &model.ImageInfo{
		ID:        id,
		Tag:       tag,
		SizeBytes: size,
		Labels:    labels,
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		info.Created = ts
	}
	return info
}

// ImageExists reports whether tag is present on the daemon.
func ImageExists(ctx context.Context, cli *Client, tag string) (bool, error) {
	_, err := InspectImage(ctx, cli, tag)
	if err == nil {
		return true, nil
	}
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) && cliErr.Code == model.ExitImageNotFound {
		return false, nil
	}
	return false, err
}

// RemoveImage untags and deletes the toolkit image. Child images are pruned.
func RemoveImage(ctx context.Context, cli *Client, tag string, force bool) error {
	_, err := cli.Inner().ImageRemove(ctx, tag, dockerimage.RemoveOptions{
		Force:         force,
		PruneChildren: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return model.NewCLIError(model.ExitImageNotFound, fmt.Sprintf("image %s not found", tag))
		}
		return model.WrapCLIError(model.ExitDockerNotRunning, fmt.Sprintf("failed to remove image %s", tag), err)
	}
	return nil
}

// ListImageTools returns the names of the executables in toolDir inside the
// image tag. A container is created (never started) so the directory can be
// copied out as a tar stream, and removed again before returning.
func ListImageTools(ctx context.Context, cli *Client, tag, toolDir string) ([]string, error) {
	created, err := cli.Inner().ContainerCreate(ctx, &container.Config{
		Image:      tag,
		Entrypoint: []string{"true"},
		Labels:     image.RunLabels("list-tools"),
	}, nil, nil, nil, "")
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, model.NewCLIError(
				model.ExitImageNotFound,
				fmt.Sprintf("image %s not found (run \"%s build\" first)", tag, model.BinaryName),
			)
		}
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create scan container from %s", tag),
			err,
		)
	}

	defer func() {
		// Removal uses a fresh context so a cancelled scan still cleans up.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rmErr := cli.Inner().ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			log.Warn().Err(rmErr).Str("container", created.ID).Msg("failed to remove scan container")
		}
	}()

	rc, _, err := cli.Inner().CopyFromContainer(ctx, created.ID, toolDir)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to read %s from image %s", toolDir, tag),
			err,
		)
	}
	defer rc.Close()

	tools, err := collectExecutables(rc)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to read tool directory archive", err)
	}
	log.Debug().Int("count", len(tools)).Str("dir", toolDir).Msg("discovered toolkit executables")
	return tools, nil
}

// collectExecutables reads a tar stream produced by CopyFromContainer for a
// directory. Entries are prefixed with the directory's base name
// ("bin/disco_aws.py"); only direct children are considered.
//
// Regular files with any execute bit are kept, and so are symlinks since
// their mode says nothing about the target. Python package files and names
// that cannot be used as a link name are dropped. The result is sorted.
func collectExecutables(r io.Reader) ([]string, error) {
	tr := tar.NewReader(r)
	seen := make(map[string]bool)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(path.Clean(hdr.Name), "/")
		_, rest, found := strings.Cut(name, "/")
		if !found || rest == "" || strings.Contains(rest, "/") {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			if hdr.Mode&0o111 == 0 {
				continue
			}
		case tar.TypeSymlink:
		default:
			continue
		}

		if model.IsPackageFile(rest) {
			continue
		}
		if err := model.ValidateToolName(rest); err != nil {
			log.Debug().Str("name", rest).Err(err).Msg("skipping toolkit file")
			continue
		}
		seen[rest] = true
	}

	tools := make([]string, 0, len(seen))
	for name := range seen {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools, nil
}
