package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copernicus-rs/rs-server/internal/cleanup"
	"github.com/copernicus-rs/rs-server/internal/config"
	"github.com/copernicus-rs/rs-server/internal/download"
	"github.com/copernicus-rs/rs-server/internal/http/rest"
	"github.com/copernicus-rs/rs-server/internal/ingest"
	"github.com/copernicus-rs/rs-server/internal/logctx"
	"github.com/copernicus-rs/rs-server/internal/notifier"
	"github.com/copernicus-rs/rs-server/internal/obs"
	"github.com/copernicus-rs/rs-server/internal/provider"
	"github.com/copernicus-rs/rs-server/internal/provider/auxip"
	"github.com/copernicus-rs/rs-server/internal/provider/cadip"
	"github.com/copernicus-rs/rs-server/internal/storage"
	"github.com/copernicus-rs/rs-server/internal/storage/sqlite"
	"github.com/copernicus-rs/rs-server/internal/telemetry"
)

const serviceName = "rs-server"

// version is set at build time through ldflags.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("rs-server starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	adgsStore := sqlite.NewInstrumentedStatusRepository(database, sqlite.TableADGS, tel)
	cadipStore := sqlite.NewInstrumentedStatusRepository(database, sqlite.TableCADIP, tel)

	// =========================================================================
	// Start Station Providers
	adgsProviders, cadipProviders := buildProviders(ctx, cfg, tel)

	// =========================================================================
	// Start Object Storage
	objects := obs.NewHandler(obs.Config{
		Endpoint:   cfg.S3.Endpoint,
		AccessKey:  cfg.S3.AccessKey,
		SecretKey:  cfg.S3.SecretKey,
		Region:     cfg.S3.Region,
		RetryCount: cfg.S3.RetryCount,
		RetryWait:  cfg.S3.RetryWait,
	})

	// =========================================================================
	// Start Retrieval Workers
	stagingDir := cfg.StagingDir
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}

	launcher := download.NewLauncher(cfg.StartTimeout)

	adgsRetriever := download.NewRetriever(adgsStore, adgsProviders, objects, stagingDir, tel)
	defer adgsRetriever.Close()

	cadipRetriever := download.NewRetriever(cadipStore, cadipProviders, objects, stagingDir, tel)
	defer cadipRetriever.Close()

	// =========================================================================
	// Start Notifications
	setupNotifications(ctx, cfg, adgsRetriever, cadipRetriever)

	// =========================================================================
	// Start Station Ingest
	if cfg.PollInterval > 0 {
		setupIngest(ctx, cfg, adgsStore, adgsProviders, cadipStore, cadipProviders)
	}

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, stagingDir, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	adgsHandler := rest.NewADGSHandler(adgsStore, adgsProviders, launcher, adgsRetriever)
	cadipHandler := rest.NewCADIPHandler(cadipStore, cadipProviders, launcher, cadipRetriever)

	server := setupServer(ctx, cfg, tel, adgsHandler, cadipHandler)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"staging_dir", stagingDir,
		"start_timeout", cfg.StartTimeout.String(),
		"stations", cadipProviders.Stations(),
	)

	// =========================================================================
	// Shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}
	}

	return nil
}

// buildProviders wires one registry per product family from the configured
// station endpoints.
func buildProviders(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*provider.Registry, *provider.Registry) {
	adgsAuth := provider.AuthConfig{
		TokenURL:     cfg.Adgs.TokenURL,
		ClientID:     cfg.Adgs.ClientID,
		ClientSecret: cfg.Adgs.ClientSecret,
	}

	adgsRegistry := provider.NewRegistry()

	if cfg.Adgs.BaseURL != "" {
		client := auxip.NewClient("adgs", cfg.Adgs.BaseURL, adgsAuth.HTTPClient(ctx))
		adgsRegistry.Register("adgs", provider.NewInstrumented(client, "adgs", tel))
	}

	cadipAuth := provider.AuthConfig{
		TokenURL:     cfg.Cadip.TokenURL,
		ClientID:     cfg.Cadip.ClientID,
		ClientSecret: cfg.Cadip.ClientSecret,
	}

	cadipRegistry := provider.NewRegistry()

	for station, baseURL := range cfg.Cadip.Stations {
		client := cadip.NewClient(station, baseURL, cadipAuth.HTTPClient(ctx), cfg.MaxParallel)
		cadipRegistry.Register(station, provider.NewInstrumented(client, station, tel))
	}

	return adgsRegistry, cadipRegistry
}

// setupNotifications drains the retriever event channels, logging every
// terminal outcome and forwarding it to the webhook when one is configured.
func setupNotifications(ctx context.Context, cfg *config.Config, retrievers ...*download.Retriever) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.WebhookURL != "" {
		notif = notifier.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookAPIKey)
	}

	notify := func(event notifier.Event) {
		if notif == nil {
			return
		}

		if err := notif.Notify(ctx, event); err != nil {
			logger.Error("failed to send notification", "product", event.Product, "err", err)
		}
	}

	for _, r := range retrievers {
		go func(done <-chan download.Event) {
			for event := range done {
				logger.Info("product download finished",
					"station", event.Station, "product", event.Product)

				notify(notifier.Event{
					Kind:    notifier.KindDownloadDone,
					Station: event.Station,
					Product: event.Product,
				})
			}
		}(r.OnDownloadComplete)

		go func(failed <-chan download.Event) {
			for event := range failed {
				logger.Error("product download failed",
					"station", event.Station, "product", event.Product, "detail", event.Detail)

				notify(notifier.Event{
					Kind:    notifier.KindDownloadFailed,
					Station: event.Station,
					Product: event.Product,
					Detail:  event.Detail,
				})
			}
		}(r.OnDownloadFailed)
	}
}

func setupIngest(ctx context.Context, cfg *config.Config,
	adgsStore storage.StatusStore, adgsProviders *provider.Registry,
	cadipStore storage.StatusStore, cadipProviders *provider.Registry,
) {
	if len(adgsProviders.Stations()) > 0 {
		ingest.NewWatcher(adgsStore, adgsProviders, adgsProviders.Stations(),
			cfg.PollInterval, cfg.PollWindow).Start(ctx)
	}

	if len(cadipProviders.Stations()) > 0 {
		ingest.NewWatcher(cadipStore, cadipProviders, cadipProviders.Stations(),
			cfg.PollInterval, cfg.PollWindow).Start(ctx)
	}
}

func setupCleanup(ctx context.Context, stagingDir string, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.SweepStaging(ctx, stagingDir, cfg.KeepStagingFor); err != nil {
					logger.Error("failed to sweep staging directory", "err", err)
				}
			}
		}
	}()
}

// setupServer prepares the routes and middlewares of the rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, adgsHandler, cadipHandler *rest.ProductHandler) *http.Server {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Mount("/adgs/aux", adgsHandler.Routes())
	r.Mount("/cadip/{station}/cadu", cadipHandler.Routes())

	r.Get("/health", rest.Health)
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
