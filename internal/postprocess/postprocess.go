// Package postprocess swaps a freshly encoded temp artifact into the
// source library in place, once an encoder run exits successfully.
package postprocess

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Swap atomically replaces sourcePath with the contents of tempPath: the
// temp artifact is renamed over the source (same filesystem, since both
// live under the configured storage root), then any leftover temp file is
// removed. If the rename crosses filesystems, it falls back to copy+remove.
func Swap(logger *slog.Logger, tempPath, sourcePath string) error {
	if err := os.Rename(tempPath, sourcePath); err == nil {
		logger.Info("swapped encoded artifact into place", "source", sourcePath, "temp", tempPath)
		return nil
	}

	if err := copyFile(tempPath, sourcePath); err != nil {
		return fmt.Errorf("swapping %s into %s: %w", tempPath, sourcePath, err)
	}
	if err := os.Remove(tempPath); err != nil {
		logger.Warn("failed to remove temp artifact after cross-filesystem copy", "temp", tempPath, "error", err)
	}
	logger.Info("swapped encoded artifact into place via copy", "source", sourcePath, "temp", tempPath)
	return nil
}

// CleanupTemp removes a temp artifact left behind by a failed or cancelled
// encode, ignoring a not-exist error.
func CleanupTemp(logger *slog.Logger, tempPath string) {
	if tempPath == "" {
		return
	}
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove leftover temp artifact", "temp", tempPath, "error", err)
	}
}

// OutputPath computes the encoder's temp output path for videoID, given the
// source path: extension is .mp4 iff the source extension is .mp4, else .mkv.
func OutputPath(tempDir string, videoID uint, sourcePath string) string {
	ext := ".mkv"
	if filepath.Ext(sourcePath) == ".mp4" {
		ext = ".mp4"
	}
	return filepath.Join(tempDir, fmt.Sprintf("%d%s", videoID, ext))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}
