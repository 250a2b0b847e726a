package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// completedRun is one prior run found on disk during retention cleanup.
type completedRun struct {
	dir         string
	generatedAt time.Time
}

// cleanupOldRuns enumerates prior completed runs for this pipeline, keeps the
// configured number of most recent ones, and deletes the artifacts,
// manifests, and logs of everything older in one pass. Directories without a
// manifest are not completed runs and are left alone, except the current
// run's own directory which is always kept.
func (o *Orchestrator) cleanupOldRuns(currentRunID string) error {
	pipelineDir := filepath.Join(o.cfg.Writer.OutputDir, o.cfg.Pipeline.Name)

	entries, err := os.ReadDir(pipelineDir)
	if err != nil {
		return err
	}

	var completed []completedRun
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == currentRunID {
			continue
		}

		dir := filepath.Join(pipelineDir, entry.Name())
		manifest, err := readManifest(filepath.Join(dir, ManifestFileName))
		if err != nil {
			continue
		}
		completed = append(completed, completedRun{dir: dir, generatedAt: manifest.GeneratedAt})
	}

	// Newest first; the current run occupies one retention slot
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].generatedAt.After(completed[j].generatedAt)
	})

	keep := o.cfg.Pipeline.RetainRuns - 1
	if keep < 0 {
		keep = 0
	}
	if len(completed) <= keep {
		return nil
	}

	for _, old := range completed[keep:] {
		if err := os.RemoveAll(old.dir); err != nil {
			o.log.Warn("failed to delete old run",
				zap.String("dir", old.dir),
				zap.Error(err))
			continue
		}
		o.log.Info("deleted old run",
			zap.String("dir", old.dir),
			zap.Time("generated_at", old.generatedAt))
	}

	return nil
}

// readManifest loads a run manifest from disk.
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is under the configured output dir
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
