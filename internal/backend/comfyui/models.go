package comfyui

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// LinkModelCache symlinks every directory in cfg.ModelCachePath into the
// engine's models directory, replacing whatever is at the target. It
// returns the model types linked.
func LinkModelCache(cfg Config, logger *slog.Logger) ([]string, error) {
	entries, err := os.ReadDir(cfg.ModelCachePath)
	if err != nil {
		return nil, fmt.Errorf("read model cache: %w", err)
	}

	modelsDir := filepath.Join(cfg.ComfyPath, "models")
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}

	var linked []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		source := filepath.Join(cfg.ModelCachePath, entry.Name())
		target := filepath.Join(modelsDir, entry.Name())

		if _, err := os.Lstat(target); err == nil {
			if err := os.RemoveAll(target); err != nil {
				return linked, fmt.Errorf("remove %s: %w", target, err)
			}
		}
		if err := os.Symlink(source, target); err != nil {
			return linked, fmt.Errorf("link %s: %w", entry.Name(), err)
		}

		logger.Info("linked cached models", "type", entry.Name(), "target", target)
		linked = append(linked, entry.Name())
	}
	return linked, nil
}
