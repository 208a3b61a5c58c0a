// Package image owns the toolkit image recipe and the metadata stamped on
// images built from it.
//
// The Dockerfile is embedded in the binary so that building never depends
// on a checkout of this repository. It layers OS packages, an interpreter
// compiled by pyenv's python-build script, and a clone + install of the
// Asiaq toolkit. Every RUN step is an && chain, so any failing command
// fails the whole build.
package image

import (
	"archive/tar"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"time"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// DockerfileName is the name of the recipe inside the build context.
const DockerfileName = "Dockerfile"

// Default build parameters, overridable through config and flags.
const (
	DefaultPythonVersion = "2.7.18"
	DefaultAsiaqRepo     = "https://github.com/amplify-education/asiaq.git"
	DefaultAsiaqRef      = "master"
	DefaultToolDir       = "/opt/asiaq/bin"
)

//go:embed Dockerfile
var dockerfile []byte

// DefaultSpec returns the ImageSpec used when nothing is configured.
func DefaultSpec() model.ImageSpec {
	return model.ImageSpec{
		Tag:           model.DefaultImageTag,
		PythonVersion: DefaultPythonVersion,
		AsiaqRepo:     DefaultAsiaqRepo,
		AsiaqRef:      DefaultAsiaqRef,
		ToolDir:       DefaultToolDir,
	}
}

// Context returns the build context as an uncompressed tar stream holding
// only the Dockerfile. The daemon needs nothing else: the toolkit is cloned
// inside the build.
func Context() (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name:    DockerfileName,
		Mode:    0o644,
		Size:    int64(len(dockerfile)),
		ModTime: time.Unix(0, 0),
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write build context header: %w", err)
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return nil, fmt.Errorf("failed to write Dockerfile into build context: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize build context: %w", err)
	}
	return &buf, nil
}

// BuildArgs maps an ImageSpec onto the ARG declarations of the recipe.
// The Docker SDK takes pointer values so that an arg can be passed unset.
func BuildArgs(spec model.ImageSpec) map[string]*string {
	str := func(s string) *string { return &s }

	args := map[string]*string{
		"PYTHON_VERSION": str(spec.PythonVersion),
		"ASIAQ_REPO":     str(spec.AsiaqRepo),
		"ASIAQ_REF":      str(spec.AsiaqRef),
	}
	// ASIAQ_COMMIT busts the clone layer's cache whenever the ref moves.
	if spec.AsiaqCommit != "" {
		args["ASIAQ_COMMIT"] = str(spec.AsiaqCommit)
	}
	return args
}
