// Package alias manages the symlinks that expose toolkit commands on the
// host.
//
// Every alias is a symlink named after a toolkit executable that points at
// the asiaq-container binary itself. When the binary starts it looks at the
// name it was invoked under and, if that is not its own name, runs the
// same-named tool inside the container. The symlinks are therefore the only
// state: there is no registry of linked tools.
package alias

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// Linker creates and removes aliases in BinDir pointing at Target.
type Linker struct {
	// BinDir is the directory the symlinks are written to (e.g., ~/.local/bin).
	BinDir string

	// Target is the absolute path of the multi-call binary.
	Target string
}

// NewLinker creates a Linker. Target is made absolute so that links keep
// working regardless of the directory they are invoked from.
func NewLinker(binDir, target string) (*Linker, error) {
	absBin, err := filepath.Abs(binDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bin dir %q: %w", binDir, err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve link target %q: %w", target, err)
	}
	return &Linker{BinDir: absBin, Target: absTarget}, nil
}

// SelfPath returns the resolved path of the running executable, suitable
// as a Linker target.
func SelfPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate running executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path %q: %w", exe, err)
	}
	return resolved, nil
}

// Link creates one symlink per name. It is idempotent: links that already
// point at Target are reported unchanged. Anything else occupying the path
// is left alone unless force is set. Directories are never replaced.
//
// An error is returned only when BinDir cannot be created or a filesystem
// operation fails; per-name problems are reported through Alias.State.
func (l *Linker) Link(names []string, force bool) ([]model.Alias, error) {
	if err := os.MkdirAll(l.BinDir, 0o755); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to create bin dir %s", l.BinDir), err)
	}

	results := make([]model.Alias, 0, len(names))
	for _, name := range names {
		a, err := l.linkOne(name, force)
		if err != nil {
			return results, err
		}
		log.Debug().Str("tool", a.Name).Str("state", a.State.String()).Msg("link")
		results = append(results, a)
	}
	return results, nil
}

func (l *Linker) linkOne(name string, force bool) (model.Alias, error) {
	a := model.Alias{Name: name, Path: filepath.Join(l.BinDir, name), Target: l.Target}

	if err := model.ValidateToolName(name); err != nil {
		a.State = model.LinkSkipped
		a.Note = err.Error()
		return a, nil
	}

	info, err := os.Lstat(a.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Symlink(l.Target, a.Path); err != nil {
			return a, fmt.Errorf("failed to create link %s: %w", a.Path, err)
		}
		a.State = model.LinkCreated
		return a, nil
	case err != nil:
		return a, fmt.Errorf("failed to inspect %s: %w", a.Path, err)
	}

	if info.IsDir() {
		a.State = model.LinkSkipped
		a.Note = "a directory exists at this path"
		return a, nil
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		current, ok := l.pointsAtTarget(a.Path)
		if ok {
			a.State = model.LinkUnchanged
			return a, nil
		}
		if !force {
			a.State = model.LinkSkipped
			a.Note = fmt.Sprintf("existing link points to %s (use --force to replace)", current)
			return a, nil
		}
	} else if !force {
		a.State = model.LinkSkipped
		a.Note = "a file exists at this path (use --force to replace)"
		return a, nil
	}

	if err := os.Remove(a.Path); err != nil {
		return a, fmt.Errorf("failed to remove %s: %w", a.Path, err)
	}
	if err := os.Symlink(l.Target, a.Path); err != nil {
		return a, fmt.Errorf("failed to create link %s: %w", a.Path, err)
	}
	a.State = model.LinkReplaced
	return a, nil
}

// pointsAtTarget reads the symlink at path and reports whether it resolves
// to Target. The raw link destination is returned for messages.
func (l *Linker) pointsAtTarget(path string) (string, bool) {
	dest, err := os.Readlink(path)
	if err != nil {
		return "", false
	}
	abs := dest
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(path), dest)
	}
	return dest, filepath.Clean(abs) == filepath.Clean(l.Target)
}

// List returns the aliases in BinDir that point at Target, sorted by name.
// A missing BinDir yields an empty list.
func (l *Linker) List() ([]model.Alias, error) {
	entries, err := os.ReadDir(l.BinDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.Alias{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bin dir %s: %w", l.BinDir, err)
	}

	aliases := make([]model.Alias, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		path := filepath.Join(l.BinDir, e.Name())
		if _, ok := l.pointsAtTarget(path); !ok {
			continue
		}
		aliases = append(aliases, model.Alias{Name: e.Name(), Path: path, Target: l.Target})
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Name < aliases[j].Name })
	return aliases, nil
}

// Unlink removes the named aliases, or every managed alias when names is
// empty. Only symlinks pointing at Target are removed.
func (l *Linker) Unlink(names []string) ([]model.Alias, error) {
	if len(names) == 0 {
		managed, err := l.List()
		if err != nil {
			return nil, err
		}
		for _, a := range managed {
			names = append(names, a.Name)
		}
	}

	results := make([]model.Alias, 0, len(names))
	for _, name := range names {
		a := model.Alias{Name: name, Path: filepath.Join(l.BinDir, name), Target: l.Target}

		if err := model.ValidateToolName(name); err != nil {
			a.State = model.LinkSkipped
			a.Note = err.Error()
			results = append(results, a)
			continue
		}

		info, err := os.Lstat(a.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			a.State = model.LinkSkipped
			a.Note = "not linked"
		case err != nil:
			return results, fmt.Errorf("failed to inspect %s: %w", a.Path, err)
		case info.Mode()&fs.ModeSymlink == 0:
			a.State = model.LinkSkipped
			a.Note = "not managed by " + model.BinaryName
		default:
			if _, ok := l.pointsAtTarget(a.Path); !ok {
				a.State = model.LinkSkipped
				a.Note = "not managed by " + model.BinaryName
				break
			}
			if err := os.Remove(a.Path); err != nil {
				return results, fmt.Errorf("failed to remove %s: %w", a.Path, err)
			}
			a.State = model.LinkRemoved
		}
		log.Debug().Str("tool", a.Name).Str("state", a.State.String()).Msg("unlink")
		results = append(results, a)
	}
	return results, nil
}
