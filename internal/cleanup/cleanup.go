package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/copernicus-rs/rs-server/internal/logctx"
)

// stagingPrefix matches the scratch directories workers create for downloads
// that have no caller-provided target directory.
const stagingPrefix = "rswd-"

// SweepStaging removes staging directories left behind by workers that died
// before their own cleanup ran. Only stale entries older than keepDuration
// are removed; live workers keep touching their directories.
func SweepStaging(ctx context.Context, dir string, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		logger.Error("Failed to read staging directory", "dir", dir, "err", err)

		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("Failed to stat staging entry", "entry", entry.Name(), "err", err)

			return err
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		stale := filepath.Join(dir, entry.Name())

		if err := os.RemoveAll(stale); err != nil {
			logger.Error("Failed to delete stale staging directory", "dir", stale, "err", err)

			return err
		}

		logger.Info("Deleted stale staging directory", "dir", stale)
	}

	return nil
}
