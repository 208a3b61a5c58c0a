// Package docker provides Docker Engine API wrappers for the asiaq-container
// CLI.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Building the embedded toolkit recipe and capturing the build log
//   - Inspecting and removing the toolkit image
//   - Discovering the toolkit's executables by copying its bin directory
//     out of a created-but-never-started container
//
// Running tools is not done here: alias invocations go through the engine
// CLI (see package runner) so that TTY handling and signal forwarding
// behave exactly like "docker run".
package docker
