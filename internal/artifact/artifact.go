// Package artifact locates and hands off the images the engine writes to
// its output directory.
package artifact

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when the engine did not produce the expected image.
var ErrNotFound = errors.New("artifact not found")

// Retriever reads job images from the engine's output directory.
type Retriever struct {
	outputDir string
	prefix    string
	logger    *slog.Logger
}

// NewRetriever creates a Retriever for images saved under
// <enginePath>/output with the given filename prefix.
func NewRetriever(enginePath, prefix string, logger *slog.Logger) *Retriever {
	return &Retriever{
		outputDir: filepath.Join(enginePath, "output"),
		prefix:    prefix,
		logger:    logger,
	}
}

// Path returns where the engine saves the image for jobID.
func (r *Retriever) Path(jobID string) string {
	return filepath.Join(r.outputDir, fmt.Sprintf("%s_%s_00001_.png", r.prefix, jobID))
}

// Fetch returns the base64-encoded image for jobID.
func (r *Retriever) Fetch(jobID string) (string, error) {
	path := r.Path(jobID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	r.logger.Info("artifact fetched", "job_id", jobID, "path", path, "bytes", len(data))
	return base64.StdEncoding.EncodeToString(data), nil
}

// Remove deletes the image for jobID. A missing file is not an error.
func (r *Retriever) Remove(jobID string) error {
	err := os.Remove(r.Path(jobID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
