package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copernicus-rs/rs-server/internal/download"
	"github.com/copernicus-rs/rs-server/internal/logctx"
	"github.com/copernicus-rs/rs-server/internal/provider"
	"github.com/copernicus-rs/rs-server/internal/storage"
)

// Runner launches and force-fails background retrieval work.
type Runner interface {
	Retrieve(ctx context.Context, req download.Request, started func())
	MarkStartFailure(ctx context.Context, req download.Request)
}

// ProductHandler serves the download endpoints of one product family. The
// same handler backs /adgs/aux and /cadip/{station}/cadu; only the station
// lookup differs.
type ProductHandler struct {
	store     storage.StatusStore
	providers provider.Resolver
	launcher  *download.Launcher
	runner    Runner
	station   func(r *http.Request) string
}

// NewADGSHandler builds the handler of the auxiliary-data family, which has a
// single fixed station.
func NewADGSHandler(store storage.StatusStore, providers provider.Resolver, launcher *download.Launcher, runner Runner) *ProductHandler {
	return &ProductHandler{
		store:     store,
		providers: providers,
		launcher:  launcher,
		runner:    runner,
		station:   func(*http.Request) string { return "adgs" },
	}
}

// NewCADIPHandler builds the handler of the CADIP family, resolving the
// station from the URL.
func NewCADIPHandler(store storage.StatusStore, providers provider.Resolver, launcher *download.Launcher, runner Runner) *ProductHandler {
	return &ProductHandler{
		store:     store,
		providers: providers,
		launcher:  launcher,
		runner:    runner,
		station:   func(r *http.Request) string { return chi.URLParam(r, "station") },
	}
}

func (h *ProductHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.TriggerDownload)
	r.Get("/status", h.DownloadStatus)
	r.Get("/search", h.SearchProducts)

	return r
}

// TriggerDownload spawns the background retrieval of one product and answers
// with whether the worker started, not whether the download succeeded.
func (h *ProductHandler) TriggerDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name query parameter")

		return
	}

	rec, err := h.store.Get(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		rec, err = h.store.Create(ctx, name, name, time.Now().UTC())
		if errors.Is(err, storage.ErrConflict) {
			rec, err = h.store.Get(ctx, name)
		}
	}

	if err != nil {
		logger.ErrorContext(ctx, "status lookup failed", "product", name, "err", err)
		writeStarted(w, http.StatusServiceUnavailable, false)

		return
	}

	if err := h.store.Reset(ctx, name); err != nil {
		if errors.Is(err, storage.ErrInProgress) {
			logger.WarnContext(ctx, "download already in progress", "product", name)
			writeStarted(w, http.StatusConflict, false)

			return
		}

		logger.ErrorContext(ctx, "status reset failed", "product", name, "err", err)
		writeStarted(w, http.StatusServiceUnavailable, false)

		return
	}

	req := download.Request{
		Station:   h.station(r),
		Name:      name,
		ProductID: rec.ProductID,
		LocalDir:  r.URL.Query().Get("local"),
		ObsPath:   r.URL.Query().Get("obs"),
	}

	outcome := h.launcher.Launch(ctx, func(ctx context.Context, started func()) {
		h.runner.Retrieve(ctx, req, started)
	})

	if outcome == download.TimedOut {
		logger.ErrorContext(ctx, "download worker did not start in time", "product", name)
		h.runner.MarkStartFailure(ctx, req)
		writeStarted(w, http.StatusRequestTimeout, false)

		return
	}

	writeStarted(w, http.StatusOK, true)
}

// DownloadStatus reports the tracked record of one product.
func (h *ProductHandler) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name query parameter")

		return
	}

	rec, err := h.store.Get(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("product %s is not tracked", name))

		return
	}

	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "status lookup failed", "product", name, "err", err)
		writeError(w, http.StatusServiceUnavailable, "status lookup failed")

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// SearchProducts queries the station catalog over a publication window and
// tracks every product the station reports.
func (h *ProductHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	tr, err := parseInterval(r.URL.Query().Get("datetime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	station := h.station(r)

	prov, err := h.providers.Resolve(station)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	products, err := prov.Search(ctx, tr)
	if err != nil {
		logger.ErrorContext(ctx, "station search failed", "station", station, "err", err)
		writeError(w, http.StatusServiceUnavailable, "station search failed")

		return
	}

	records := make([]*storage.ProductRecord, 0, len(products))

	for _, p := range products {
		if _, err := h.store.CreateIfMissing(ctx, p.Name, p.ID, p.AvailableAt); err != nil {
			logger.ErrorContext(ctx, "failed to track product", "product", p.Name, "err", err)
			writeError(w, http.StatusServiceUnavailable, "failed to track search results")

			return
		}

		rec, err := h.store.Get(ctx, p.Name)
		if err != nil {
			logger.ErrorContext(ctx, "failed to read tracked product", "product", p.Name, "err", err)
			writeError(w, http.StatusServiceUnavailable, "failed to track search results")

			return
		}

		records = append(records, rec)
	}

	writeJSON(w, http.StatusOK, records)
}

// Health reports service liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseInterval parses a "start/stop" RFC3339 publication window.
func parseInterval(raw string) (provider.TimeRange, error) {
	if raw == "" {
		return provider.TimeRange{}, errors.New("missing datetime query parameter")
	}

	startRaw, stopRaw, ok := strings.Cut(raw, "/")
	if !ok {
		return provider.TimeRange{}, errors.New("datetime must be a start/stop interval")
	}

	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return provider.TimeRange{}, fmt.Errorf("invalid interval start: %w", err)
	}

	stop, err := time.Parse(time.RFC3339, stopRaw)
	if err != nil {
		return provider.TimeRange{}, fmt.Errorf("invalid interval stop: %w", err)
	}

	tr := provider.TimeRange{Start: start, Stop: stop}

	return tr, tr.Validate()
}

func writeStarted(w http.ResponseWriter, status int, started bool) {
	value := "false"
	if started {
		value = "true"
	}

	writeJSON(w, status, map[string]string{"started": value})
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
