// Package model defines the domain types for the asiaq-container CLI.
//
// The types in this package describe the image being built, the aliases
// linked into the user's bin directory, and the container invocation that
// an alias turns into. None of them are persisted by this program: image
// metadata lives in Docker image labels and aliases are plain symlinks, so
// these values are reconstructed from the daemon and the filesystem at
// runtime.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// BinaryName is the name the multi-call binary answers to. Any other base
// name in os.Args[0] is treated as a toolkit command to run in the container.
const BinaryName = "asiaq-container"

// DefaultImageTag is the tag applied to the built toolkit image.
const DefaultImageTag = "asiaq:latest"

// LinkState describes what happened to a single alias during link or unlink.
type LinkState string

const (
	// LinkCreated indicates a new symlink was written.
	LinkCreated LinkState = "created"

	// LinkUnchanged indicates the symlink already pointed at the binary.
	LinkUnchanged LinkState = "unchanged"

	// LinkReplaced indicates a foreign file or link was overwritten (--force).
	LinkReplaced LinkState = "replaced"

	// LinkSkipped indicates a foreign file was left in place.
	LinkSkipped LinkState = "skipped"

	// LinkRemoved indicates a managed symlink was deleted.
	LinkRemoved LinkState = "removed"
)

// String returns the string representation of LinkState.
func (s LinkState) String() string {
	return string(s)
}

// ImageSpec describes how the toolkit image is built.
type ImageSpec struct {
	// Tag is the image reference applied to the build result (e.g., "asiaq:latest").
	Tag string `json:"tag" yaml:"tag"`

	// PythonVersion is the interpreter version compiled by python-build.
	PythonVersion string `json:"pythonVersion" yaml:"python_version"`

	// AsiaqRepo is the Git URL the toolkit is cloned from.
	AsiaqRepo string `json:"asiaqRepo" yaml:"asiaq_repo"`

	// AsiaqRef is the branch, tag, or commit checked out after cloning.
	AsiaqRef string `json:"asiaqRef" yaml:"asiaq_ref"`

	// AsiaqCommit is the commit AsiaqRef resolved to at build time.
	// Empty when resolution was skipped or failed.
	AsiaqCommit string `json:"asiaqCommit,omitempty" yaml:"-"`

	// ToolDir is the directory inside the image holding the toolkit's executables.
	ToolDir string `json:"toolDir" yaml:"tool_dir"`

	// NoCache disables the daemon's layer cache for the build.
	NoCache bool `json:"-" yaml:"-"`

	// BuiltAt is stamped into the image labels when the build starts.
	BuiltAt time.Time `json:"builtAt,omitempty" yaml:"-"`
}

// Validate checks that the fields needed to build are present.
func (s *ImageSpec) Validate() error {
	if s.Tag == "" {
		return fmt.Errorf("image spec: tag must not be empty")
	}
	if s.PythonVersion == "" {
		return fmt.Errorf("image spec: python version must not be empty")
	}
	if !pythonVersionRegex.MatchString(s.PythonVersion) {
		return fmt.Errorf("image spec: invalid python version %q", s.PythonVersion)
	}
	if s.AsiaqRepo == "" {
		return fmt.Errorf("image spec: asiaq repository must not be empty")
	}
	if s.AsiaqRef == "" {
		return fmt.Errorf("image spec: asiaq ref must not be empty")
	}
	if !strings.HasPrefix(s.ToolDir, "/") {
		return fmt.Errorf("image spec: tool dir %q must be an absolute container path", s.ToolDir)
	}
	return nil
}

// pythonVersionRegex accepts the version strings python-build understands
// for CPython releases (e.g., "2.7.18", "3.12.1", "3.13-dev").
var pythonVersionRegex = regexp.MustCompile(`^[0-9]+\.[0-9]+(\.[0-9]+)?([a-z0-9.-]*)$`)

// ImageInfo is the daemon's view of a built toolkit image.
type ImageInfo struct {
	ID        string            `json:"id"`
	Tag       string            `json:"tag"`
	Created   time.Time         `json:"created"`
	SizeBytes int64             `json:"sizeBytes"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Alias is a symlink in the user's bin directory that dispatches to the
// multi-call binary.
type Alias struct {
	// Name is the toolkit command the link exposes (e.g., "disco_aws.py").
	Name string `json:"name"`

	// Path is the absolute path of the symlink.
	Path string `json:"path"`

	// Target is where the symlink points.
	Target string `json:"target"`

	// State is the outcome of the last link/unlink operation on this alias.
	State LinkState `json:"state,omitempty"`

	// Note carries a short reason for skipped aliases.
	Note string `json:"note,omitempty"`
}

// Mount is a bind mount from the host into the toolkit container.
type Mount struct {
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"readOnly" yaml:"read_only"`
}

// String renders the mount in "docker run -v" syntax.
func (m Mount) String() string {
	if m.ReadOnly {
		return m.Source + ":" + m.Target + ":ro"
	}
	return m.Source + ":" + m.Target
}

// Validate checks that both ends of the mount are absolute paths.
func (m Mount) Validate() error {
	if !strings.HasPrefix(m.Source, "/") {
		return fmt.Errorf("mount: source %q must be an absolute path", m.Source)
	}
	if !strings.HasPrefix(m.Target, "/") {
		return fmt.Errorf("mount: target %q must be an absolute path", m.Target)
	}
	return nil
}

// toolNameRegex matches file names the toolkit ships as commands. Dots are
// allowed because most toolkit entry points carry a ".py" suffix.
var toolNameRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.+-]*$`)

// ValidateToolName checks that name can be used both as a symlink file name
// and as a command inside the container.
func ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid tool name %q: must be a plain file name", name)
	}
	if name == BinaryName {
		return fmt.Errorf("invalid tool name %q: collides with the %s binary", name, BinaryName)
	}
	if !toolNameRegex.MatchString(name) {
		return fmt.Errorf("invalid tool name %q: contains unsupported characters", name)
	}
	return nil
}

// IsPackageFile reports whether name is a Python package file that sits
// next to the toolkit's entry points without being one: the package marker
// and compiled modules. Discovery skips these even when they are executable.
func IsPackageFile(name string) bool {
	if name == "__init__.py" {
		return true
	}
	return strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, ".pyo")
}

// ExitCode defines the CLI's process exit codes. In alias mode the
// containerised tool's own exit code is used instead.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the configuration file could not be loaded.
	ExitConfigError ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon or CLI is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitImageNotFound indicates the toolkit image has not been built.
	ExitImageNotFound ExitCode = 4

	// ExitGitError indicates a git operation failed.
	ExitGitError ExitCode = 5

	// ExitToolNotFound indicates the requested tool is unknown.
	ExitToolNotFound ExitCode = 6

	// ExitBuildFailed indicates the image build was rejected by the daemon.
	ExitBuildFailed ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error

	// Output holds captured process or daemon output that should be shown
	// to the user alongside the error (e.g., a failed build log).
	Output string
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// WithOutput attaches captured output to the error and returns it.
func (e *CLIError) WithOutput(output string) *CLIError {
	e.Output = output
	return e
}
