// Package ingest discovers freshly published station products and tracks them
// as NOT_STARTED records. Discovery never triggers downloads; those stay
// request-driven.
package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/copernicus-rs/rs-server/internal/logctx"
	"github.com/copernicus-rs/rs-server/internal/provider"
	"github.com/copernicus-rs/rs-server/internal/storage"
)

// Watcher polls a set of stations for products published inside a sliding
// window ending now.
type Watcher struct {
	store           storage.StatusStore
	providers       provider.Resolver
	stations        []string
	pollingInterval time.Duration
	window          time.Duration
}

func NewWatcher(store storage.StatusStore, providers provider.Resolver, stations []string, pollingInterval, window time.Duration) *Watcher {
	return &Watcher{
		store:           store,
		providers:       providers,
		stations:        stations,
		pollingInterval: pollingInterval,
		window:          window,
	}
}

// Start spawns the polling loop. A panicking poll restarts the loop after a
// brief backoff unless the context is already cancelled.
func (w *Watcher) Start(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("starting station ingest", "stations", w.stations, "window", w.window.String())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("ingest watcher panic",
					"operation", "poll_stations",
					"panic", r,
					"stack", string(debug.Stack()))

				if ctx.Err() == nil {
					logger.Info("restarting ingest watcher after panic",
						"operation", "poll_stations")
					time.Sleep(time.Second) // Brief backoff before restart
					w.Start(ctx)
				}
			}
		}()

		ticker := time.NewTicker(w.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("ingest watcher shutdown",
					"operation", "poll_stations",
					"reason", "context_cancelled")

				return
			case <-ticker.C:
				if err := w.pollStations(ctx); err != nil {
					logger.Error("failed to poll stations", "err", err)
				}
			}
		}
	}()
}

// pollStations queries every configured station once. Stations failing their
// search are logged and skipped so one flaky endpoint does not starve the
// rest.
func (w *Watcher) pollStations(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	now := time.Now().UTC()
	tr := provider.TimeRange{Start: now.Add(-w.window), Stop: now}

	for _, station := range w.stations {
		stationLogger := logger.With("station", station)

		prov, err := w.providers.Resolve(station)
		if err != nil {
			return fmt.Errorf("failed to resolve ingest station: %w", err)
		}

		products, err := prov.Search(ctx, tr)
		if err != nil {
			stationLogger.Error("station poll failed", "err", err)

			continue
		}

		tracked := 0

		for _, p := range products {
			created, err := w.store.CreateIfMissing(ctx, p.Name, p.ID, p.AvailableAt)
			if err != nil {
				stationLogger.Error("failed to track product", "product", p.Name, "err", err)

				continue
			}

			if created {
				tracked++
			}
		}

		if tracked > 0 {
			stationLogger.Info("new products tracked",
				"tracked", tracked, "published", len(products))
		}
	}

	return nil
}
