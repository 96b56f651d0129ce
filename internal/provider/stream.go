package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/copernicus-rs/rs-server/internal/download/progress"
	"github.com/copernicus-rs/rs-server/internal/logctx"
)

const dirPerm = 0o755

// progressInterval is how many bytes go by between progress log lines.
const progressInterval = int64(100 * 1024 * 1024)

// SaveStream copies a station payload to target, creating parent directories
// and logging humanized progress as bytes arrive. A negative total means the
// payload size is unknown.
func SaveStream(ctx context.Context, r io.Reader, target string, total int64) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer out.Close()

	if total < 0 {
		total = 0
	}

	onProgress := func(written, totalBytes int64) {
		if totalBytes > 0 {
			logger.DebugContext(ctx, "download progress",
				"target", target,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(totalBytes)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(totalBytes), 2))
		} else {
			logger.DebugContext(ctx, "download progress",
				"target", target,
				"downloaded", humanize.Bytes(uint64(written)))
		}
	}

	if _, err := io.Copy(out, progress.NewReader(r, total, progressInterval, onProgress)); err != nil {
		return fmt.Errorf("failed to copy payload to %s: %w", target, err)
	}

	return nil
}
