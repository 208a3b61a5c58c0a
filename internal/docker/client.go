package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// defaultPingTimeout bounds how long Ping waits for the daemon. Docker
// Desktop on macOS can take a few seconds to answer after waking up.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client for the image operations this
// CLI needs. It handles automatic Docker socket detection across platforms
// (Linux, macOS, Windows), including rootless and Docker Desktop sockets, and
// translates daemon failures into CLIErrors with ExitDockerNotRunning.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* Docker not running */ }
type Client struct {
	// inner is the underlying Docker SDK client. It is wrapped rather than
	// embedded so the exposed API stays small. Holding the interface type
	// lets tests substitute a stub for the daemon.
	inner client.APIClient
}

// NewClient creates a new Docker client with automatic socket detection.
//
// The detection strategy follows this priority order:
//  1. DOCKER_HOST environment variable (if set, used as-is)
//  2. Platform-specific default socket paths:
//     - Linux: /var/run/docker.sock, then $XDG_RUNTIME_DIR/docker.sock (rootless)
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine
//
// Returns a model.CLIError with ExitDockerNotRunning if no socket is found.
func NewClient() (*Client, error) {
	// Step 1: An explicit DOCKER_HOST wins unconditionally. The SDK parses
	// the connection string (unix://, tcp://, npipe://, ssh://).
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		log.Debug().Str("host", dockerHost).Msg("using DOCKER_HOST")
		return newClientWithHost(dockerHost)
	}

	// Step 2: Probe the platform's well-known socket locations. Finding a
	// socket file does not prove the daemon is up; callers Ping for that.
	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker socket not found",
			err,
		)
	}
	log.Debug().Str("host", host).Msg("detected Docker socket")

	// Step 3: Build the SDK client for the detected host.
	return newClientWithHost(host)
}

// newClientWithHost creates a Docker client connected to host, negotiating
// the API version with the daemon instead of pinning one.
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}

	return &Client{inner: c}, nil
}

// detectDockerHost determines the Docker socket path for the current platform.
// It probes known socket paths and returns the first one that exists; Ping
// is responsible for checking the daemon actually answers.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		// The system socket comes first. Rootless Docker listens under the
		// user's runtime dir instead.
		paths := []string{"/var/run/docker.sock"}
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			paths = append(paths, xdg+"/docker.sock")
		}
		return detectUnixSocket(paths)

	case "darwin":
		// Docker Desktop creates /var/run/docker.sock only when the
		// "allow the default socket" setting is on; the per-user socket
		// under ~/.docker/run always exists while Desktop is running.
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return detectUnixSocket([]string{"/var/run/docker.sock"})
		}
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
			homeDir + "/.docker/run/docker.sock",
		})

	case "windows":
		// os.Stat does not work on named pipes, so probe with a dial.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the Docker host URI for the first existing path.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf(
		"Docker socket not found at any of: %v (is Docker running?)",
		paths,
	)
}

// Ping verifies that the Docker daemon is reachable and responsive.
// Every command that talks to the daemon pings first, so an unreachable
// daemon is reported once with a clear message instead of as the first
// failing API call.
//
// Returns a model.CLIError with ExitDockerNotRunning if the daemon
// does not respond within defaultPingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	// The caller's context may have no deadline; bound the wait so a hung
	// daemon socket does not hang the CLI.
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	_, err := c.inner.Ping(pingCtx)
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding (is Docker running?)",
			err,
		)
	}
	return nil
}

// ServerVersion returns the daemon's version string (e.g., "28.5.2"), as
// shown by the status command.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	v, err := c.inner.ServerVersion(ctx)
	if err != nil {
		return "", model.WrapCLIError(model.ExitDockerNotRunning, "failed to query Docker version", err)
	}
	return v.Version, nil
}

// Close releases all resources held by the Docker client.
// Close is safe to call multiple times.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner returns the underlying SDK client for operations not wrapped here.
func (c *Client) Inner() client.APIClient {
	return c.inner
}
