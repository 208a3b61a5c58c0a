package alias

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// ScanDir returns the names of the executable regular files directly inside
// dir, sorted. Symlinks are followed; broken links, directories and files
// without an execute bit are ignored, as are Python package files and names
// unusable as aliases.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool directory %s: %w", dir, err)
	}

	tools := make([]string, 0, len(entries))
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Debug().Str("name", e.Name()).Err(err).Msg("skipping unreadable entry")
			continue
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		if model.IsPackageFile(e.Name()) {
			continue
		}
		if err := model.ValidateToolName(e.Name()); err != nil {
			log.Debug().Str("name", e.Name()).Err(err).Msg("skipping tool")
			continue
		}
		tools = append(tools, e.Name())
	}
	sort.Strings(tools)
	return tools, nil
}

// InPath reports whether dir is one of the entries of pathEnv (a
// PATH-style list). Entries are compared after cleaning; empty entries
// are ignored.
func InPath(dir, pathEnv string) bool {
	want := filepath.Clean(dir)
	for _, entry := range filepath.SplitList(pathEnv) {
		if entry == "" {
			continue
		}
		if filepath.Clean(entry) == want {
			return true
		}
	}
	return false
}
