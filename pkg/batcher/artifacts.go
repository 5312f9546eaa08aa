package batcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// ArtifactPrefix starts the name of every dry-run artifact.
const ArtifactPrefix = ".pushapi.buffer."

// ArtifactName returns the dry-run artifact name for batch n.
func ArtifactName(n int) string {
	return ArtifactPrefix + strconv.Itoa(n)
}

// ListArtifacts returns the dry-run artifacts in dir, ordered by batch number.
func ListArtifacts(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %q: %w", dir, err)
	}

	type artifact struct {
		path string
		n    int
	}
	var found []artifact
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ArtifactPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), ArtifactPrefix))
		if err != nil || n < 1 {
			continue
		}
		found = append(found, artifact{path: filepath.Join(dir, e.Name()), n: n})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	paths := make([]string, len(found))
	for i, a := range found {
		paths[i] = a.path
	}
	return paths, nil
}

// RemoveArtifacts deletes every dry-run artifact in dir and returns the
// removed paths.
func RemoveArtifacts(fs afero.Fs, dir string, logger hclog.Logger) ([]string, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	paths, err := ListArtifacts(fs, dir)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := fs.Remove(p); err != nil {
			return removed, fmt.Errorf("failed to remove %q: %w", p, err)
		}
		logger.Debug("removed buffer file", "path", p)
		removed = append(removed, p)
	}
	return removed, nil
}
