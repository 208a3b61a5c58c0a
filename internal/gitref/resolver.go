// Package gitref pins a toolkit branch or tag to a commit before the image
// is built.
//
// The commit is stamped on the image and passed to the build as a cache
// key, so rebuilding after the branch moved re-runs the clone layer instead
// of silently reusing a stale one.
//
// We shell out to `git ls-remote` rather than linking a Go Git library:
// it honours the user's credential helpers and SSH agent for private
// forks without extra configuration.
package gitref

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// commitRegex matches a full hex object name.
var commitRegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Resolver runs git ls-remote. GitPath defaults to "git" on PATH.
type Resolver struct {
	GitPath string
}

// NewResolver creates a Resolver using the git binary found on PATH.
func NewResolver() *Resolver {
	return &Resolver{GitPath: "git"}
}

// Resolve returns the commit ref points to in repo.
//
// A full commit hash is returned unchanged without contacting the remote.
// Otherwise branches are preferred over tags, and an annotated tag resolves
// to the commit it points at (the "^{}" peeled entry).
func (r *Resolver) Resolve(ctx context.Context, repo, ref string) (string, error) {
	if commitRegex.MatchString(ref) {
		return ref, nil
	}

	output, err := r.runGit(ctx, "ls-remote", repo, ref, ref+"^{}")
	if err != nil {
		return "", err
	}

	commit, ok := pickCommit(parseLsRemote(output), ref)
	if !ok {
		return "", model.NewCLIError(
			model.ExitGitError,
			fmt.Sprintf("ref %q not found in %s", ref, repo),
		)
	}
	log.Debug().Str("repo", repo).Str("ref", ref).Str("commit", commit).Msg("resolved toolkit ref")
	return commit, nil
}

// runGit executes git with args and returns stdout. Failures carry stderr
// in the message and ExitGitError as the code.
func (r *Resolver) runGit(ctx context.Context, args ...string) (string, error) {
	gitPath := r.GitPath
	if gitPath == "" {
		gitPath = "git"
	}

	// #nosec G204 -- args are built internally from config values
	cmd := exec.CommandContext(ctx, gitPath, args...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if stderrStr != "" {
			message = fmt.Sprintf("%s: %s", message, stderrStr)
		}
		return "", model.WrapCLIError(model.ExitGitError, message, err)
	}

	return stdout.String(), nil
}

// remoteRef is one line of `git ls-remote` output.
type remoteRef struct {
	Commit string
	Name   string
}

// parseLsRemote parses "<sha>\t<refname>" lines, ignoring anything else.
func parseLsRemote(output string) []remoteRef {
	var refs []remoteRef
	for _, line := range strings.Split(output, "\n") {
		commit, name, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || !commitRegex.MatchString(commit) || name == "" {
			continue
		}
		refs = append(refs, remoteRef{Commit: commit, Name: name})
	}
	return refs
}

// pickCommit chooses the commit for ref out of the ls-remote results.
//
// Preference order: refs/heads/<ref>, the peeled refs/tags/<ref>^{},
// refs/tags/<ref> for lightweight tags, then an exact name such as HEAD.
func pickCommit(refs []remoteRef, ref string) (string, bool) {
	byName := make(map[string]string, len(refs))
	for _, r := range refs {
		byName[r.Name] = r.Commit
	}

	short := strings.TrimPrefix(strings.TrimPrefix(ref, "refs/heads/"), "refs/tags/")
	candidates := []string{
		"refs/heads/" + short,
		"refs/tags/" + short + "^{}",
		"refs/tags/" + short,
		ref,
	}
	for _, name := range candidates {
		if commit, ok := byName[name]; ok {
			return commit, true
		}
	}
	return "", false
}
