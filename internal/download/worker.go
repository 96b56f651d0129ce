package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/copernicus-rs/rs-server/internal/logctx"
	"github.com/copernicus-rs/rs-server/internal/obs"
	"github.com/copernicus-rs/rs-server/internal/provider"
	"github.com/copernicus-rs/rs-server/internal/storage"
	"github.com/copernicus-rs/rs-server/internal/telemetry"
)

const (
	terminalUpdateRetries = 3
	terminalUpdateWait    = time.Second

	// stagingPattern names the per-download scratch directories.
	stagingPattern = "rswd-*"

	startFailureDetail = "Download thread did not start!"
	obsConnectDetail   = "Could not connect to the s3 storage"
)

// Request describes one product retrieval triggered over HTTP.
type Request struct {
	Station   string
	Name      string
	ProductID string

	// LocalDir, when set, receives the downloaded files and is kept.
	// Otherwise a scratch directory under the staging dir is used and
	// removed when the worker finishes.
	LocalDir string

	// ObsPath, when set, is the s3://bucket/prefix destination the files
	// are uploaded to after the download.
	ObsPath string
}

// Event reports a terminal transition for notification purposes.
type Event struct {
	Station string
	Product string
	Detail  string
}

// ObjectStore uploads downloaded artifacts to object storage.
type ObjectStore interface {
	PutFilesToS3(ctx context.Context, req obs.PutFilesRequest) ([]string, error)
}

// Retriever runs the background unit of work that drives a ProductRecord
// from NOT_STARTED to DONE or FAILED.
type Retriever struct {
	store      storage.StatusStore
	providers  provider.Resolver
	objects    ObjectStore
	stagingDir string
	telemetry  *telemetry.Telemetry

	// retryWait lets tests shrink the terminal-update backoff.
	retryWait time.Duration

	OnDownloadComplete chan Event
	OnDownloadFailed   chan Event
}

func NewRetriever(store storage.StatusStore, providers provider.Resolver, objects ObjectStore, stagingDir string, tel *telemetry.Telemetry) *Retriever {
	return &Retriever{
		store:      store,
		providers:  providers,
		objects:    objects,
		stagingDir: stagingDir,
		telemetry:  tel,
		retryWait:  terminalUpdateWait,

		OnDownloadComplete: make(chan Event),
		OnDownloadFailed:   make(chan Event),
	}
}

func (r *Retriever) Close() {
	close(r.OnDownloadComplete)
	close(r.OnDownloadFailed)
}

// Retrieve performs the whole download lifecycle for one request. It never
// returns an error: every failure, panics included, ends as a FAILED record
// carrying the failure detail.
func (r *Retriever) Retrieve(ctx context.Context, req Request, started func()) {
	ctx = logctx.With(ctx, "station", req.Station, "product", req.Name)
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "download worker panic", "panic", rec)
			r.fail(ctx, req, failureDetail(fmt.Errorf("%v", rec)))
		}
	}()

	started()

	if _, err := r.store.Transition(ctx, req.Name, storage.InProgress, ""); err != nil {
		logger.ErrorContext(ctx, "failed to mark download in progress", "err", err)
		r.fail(ctx, req, failureDetail(err))

		return
	}

	err := r.telemetry.InstrumentDownload(ctx, req.Station, func(ctx context.Context) error {
		return r.retrieve(ctx, req)
	})
	if err != nil {
		logger.ErrorContext(ctx, "download failed", "err", err)
		r.fail(ctx, req, failureDetail(err))

		return
	}

	logger.InfoContext(ctx, "download complete")
	r.updateTerminal(ctx, req.Name, storage.Done, "")
	r.publish(r.OnDownloadComplete, Event{Station: req.Station, Product: req.Name})
}

// retrieve resolves the provider, downloads the product and pushes it to
// object storage when requested.
func (r *Retriever) retrieve(ctx context.Context, req Request) error {
	logger := logctx.LoggerFromContext(ctx)

	prov, err := r.providers.Resolve(req.Station)
	if err != nil {
		return err
	}

	destDir := req.LocalDir

	if destDir == "" {
		tmpDir, err := os.MkdirTemp(r.stagingDir, stagingPattern)
		if err != nil {
			return fmt.Errorf("failed to create staging directory: %w", err)
		}

		defer func() {
			if err := os.RemoveAll(tmpDir); err != nil {
				logger.WarnContext(ctx, "failed to remove staging directory", "dir", tmpDir, "err", err)
			}
		}()

		destDir = tmpDir
	}

	product := provider.Product{ID: req.ProductID, Name: req.Name}

	if err := prov.Download(ctx, product, destDir); err != nil {
		return err
	}

	if req.ObsPath == "" {
		return nil
	}

	return r.uploadToObs(ctx, req.ObsPath, destDir)
}

func (r *Retriever) uploadToObs(ctx context.Context, obsPath, destDir string) error {
	files, err := collectFiles(destDir)
	if err != nil {
		return err
	}

	bucket, prefix := obs.SplitPath(obsPath)

	var failed []string

	err = r.telemetry.InstrumentObsTransfer(ctx, "upload", func(ctx context.Context) error {
		var uploadErr error
		failed, uploadErr = r.objects.PutFilesToS3(ctx, obs.PutFilesRequest{
			Files:  files,
			Bucket: bucket,
			Prefix: prefix,
		})

		return uploadErr
	})
	if err != nil {
		return &obsUploadError{detail: obsConnectDetail, err: err}
	}

	if len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = filepath.Base(f)
		}

		return &obsUploadError{
			detail: fmt.Sprintf("Could not upload %s to the s3 storage", strings.Join(names, ", ")),
		}
	}

	return nil
}

// collectFiles walks the download directory and returns every regular file,
// covering both single-file products and session directories.
func collectFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			files = append(files, p)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect downloaded files: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no files downloaded to %s", dir)
	}

	return files, nil
}

// MarkStartFailure force-fails a record whose worker did not signal within
// the launch timeout. The worker is not cancelled and may later overwrite
// this verdict with a terminal state of its own.
func (r *Retriever) MarkStartFailure(ctx context.Context, req Request) {
	r.fail(ctx, req, startFailureDetail)
}

func (r *Retriever) fail(ctx context.Context, req Request, detail string) {
	r.updateTerminal(ctx, req.Name, storage.Failed, detail)
	r.publish(r.OnDownloadFailed, Event{Station: req.Station, Product: req.Name, Detail: detail})
}

// updateTerminal writes a terminal status with a short bounded retry.
func (r *Retriever) updateTerminal(ctx context.Context, name string, to storage.DownloadStatus, detail string) {
	logger := logctx.LoggerFromContext(ctx)

	var err error

	for attempt := 1; attempt <= terminalUpdateRetries; attempt++ {
		if _, err = r.store.Transition(ctx, name, to, detail); err == nil {
			return
		}

		logger.WarnContext(ctx, "failed to record terminal status",
			"status", to.String(), "attempt", attempt, "err", err)

		if attempt < terminalUpdateRetries {
			time.Sleep(r.retryWait)
		}
	}

	logger.ErrorContext(ctx, "terminal status lost", "status", to.String(), "err", err)
}

// publish is a best-effort send: events go out only when somebody drains the
// channel, never blocking the worker.
func (r *Retriever) publish(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}

// obsUploadError carries the exact failure detail stored for object storage
// problems, shadowing whatever the underlying error says.
type obsUploadError struct {
	detail string
	err    error
}

func (e *obsUploadError) Error() string {
	return e.detail
}

func (e *obsUploadError) Unwrap() error {
	return e.err
}

// failureDetail renders the message stored in status_fail_message for a
// failed download.
func failureDetail(err error) string {
	var (
		uploadErr      *obsUploadError
		unknownStation *provider.UnknownStationError
		searchErr      *provider.SearchError
		downloadErr    *provider.DownloadError
	)

	switch {
	case errors.As(err, &uploadErr):
		return uploadErr.detail
	case errors.As(err, &unknownStation):
		return renderDetail("CreateProviderFailed", unknownStation.Error())
	case errors.As(err, &searchErr):
		return renderDetail("SearchProductFailed", searchErr.Error())
	case errors.As(err, &downloadErr):
		return renderDetail("DownloadProductFailed", downloadErr.Error())
	default:
		return renderDetail("Exception", err.Error())
	}
}

func renderDetail(kind, message string) string {
	return kind + "('" + strings.ReplaceAll(message, "'", `\'`) + "')"
}
