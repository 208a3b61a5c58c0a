package image

import (
	"fmt"
	"strings"
	"time"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// Label key constants define the Docker label keys stamped on the toolkit
// image and on every container started from it. They are the only record of
// how an image was built; there is no state file.
const (
	// LabelPrefix namespaces our labels away from those set by base images.
	LabelPrefix = "asiaq-container."

	// LabelManagedBy identifies images and containers created by this CLI.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelPythonVersion records the interpreter version compiled into the image.
	LabelPythonVersion = LabelPrefix + "python-version"

	// LabelAsiaqRepo records the Git URL the toolkit was cloned from.
	LabelAsiaqRepo = LabelPrefix + "asiaq-repo"

	// LabelAsiaqRef records the requested branch, tag, or commit.
	LabelAsiaqRef = LabelPrefix + "asiaq-ref"

	// LabelAsiaqCommit records the commit the ref resolved to. Optional.
	LabelAsiaqCommit = LabelPrefix + "asiaq-commit"

	// LabelToolDir records where the toolkit executables live in the image.
	LabelToolDir = LabelPrefix + "tool-dir"

	// LabelBuiltAt stores the RFC3339 timestamp of the build.
	LabelBuiltAt = LabelPrefix + "built-at"

	// LabelTool is set on run containers to the tool being executed.
	LabelTool = LabelPrefix + "tool"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = model.BinaryName

// BuildLabels constructs the label map for an image built from spec.
func BuildLabels(spec model.ImageSpec) map[string]string {
	labels := map[string]string{
		LabelManagedBy:     ManagedByValue,
		LabelPythonVersion: spec.PythonVersion,
		LabelAsiaqRepo:     spec.AsiaqRepo,
		LabelAsiaqRef:      spec.AsiaqRef,
		LabelToolDir:       spec.ToolDir,
		LabelBuiltAt:       spec.BuiltAt.UTC().Format(time.RFC3339),
	}
	if spec.AsiaqCommit != "" {
		labels[LabelAsiaqCommit] = spec.AsiaqCommit
	}
	return labels
}

// RunLabels returns the labels applied to a container running tool.
func RunLabels(tool string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelTool:      tool,
	}
}

// ParseLabels reconstructs an ImageSpec from image labels. It is the inverse
// of BuildLabels. The tag is not a label and must be filled in by the caller.
//
// Missing required labels are reported together so that a single error
// message lists everything wrong with a foreign or outdated image.
func ParseLabels(labels map[string]string) (*model.ImageSpec, error) {
	requiredKeys := []string{
		LabelManagedBy,
		LabelPythonVersion,
		LabelAsiaqRepo,
		LabelAsiaqRef,
		LabelToolDir,
		LabelBuiltAt,
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required image labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	builtAt, err := time.Parse(time.RFC3339, labels[LabelBuiltAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelBuiltAt, err)
	}

	return &model.ImageSpec{
		PythonVersion: labels[LabelPythonVersion],
		AsiaqRepo:     labels[LabelAsiaqRepo],
		AsiaqRef:      labels[LabelAsiaqRef],
		AsiaqCommit:   labels[LabelAsiaqCommit],
		ToolDir:       labels[LabelToolDir],
		BuiltAt:       builtAt,
	}, nil
}
