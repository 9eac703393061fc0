// Package archive exports sealed runs into a flat archive tree for long
// term storage, keyed by scenario hash and run id.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"terrarium.sim/internal/persistence/artifact"
	"terrarium.sim/internal/simerr"
)

type Meta struct {
	RunID        string `json:"run_id"`
	Label        string `json:"label,omitempty"`
	ScenarioHash string `json:"scenario_hash"`
	Seed         int64  `json:"seed"`
	Ticks        uint64 `json:"ticks"`
	Source       string `json:"source"`
	ArchivedAt   string `json:"archived_at"`
}

// ArchiveRun copies a sealed run directory into
// `root/<scenario_hash>/<run_id>/` and drops an archive meta.json beside it.
// Unsealed runs are refused.
func ArchiveRun(root, runDir string) (string, error) {
	m, err := artifact.ReadManifest(runDir)
	if err != nil {
		return "", err
	}
	if m.SealedAt == "" {
		return "", fmt.Errorf("%w: run %s is not sealed", simerr.ErrState, m.RunID)
	}

	dst := filepath.Join(root, m.ScenarioHash, m.RunID)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%w: archive %s already exists", simerr.ErrStorage, dst)
	}
	if err := copyTree(runDir, dst); err != nil {
		_ = os.RemoveAll(dst)
		return "", err
	}

	meta := Meta{
		RunID:        m.RunID,
		Label:        m.Label,
		ScenarioHash: m.ScenarioHash,
		Seed:         m.Seed,
		Ticks:        m.Ticks,
		Source:       runDir,
		ArchivedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	if err := os.WriteFile(filepath.Join(dst, "archive_meta.json"), append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	return dst, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
			}
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
