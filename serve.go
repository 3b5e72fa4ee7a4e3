package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minios-linux/pomt/config"
	"github.com/minios-linux/pomt/i18n"
	"github.com/minios-linux/pomt/jobs"
	"github.com/minios-linux/pomt/translate"
	"github.com/minios-linux/pomt/web"
)

// ---------------------------------------------------------------------------
// serve (web service)
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var (
		listen  string
		dataDir string
		apiKey  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web service",
		Long: `Run the translation web service.

At startup the model registry is queried for the available language pairs
(unless models.discover is false). Uploaded catalogs are translated in the
background by a bounded worker pool; the browser polls the job's progress
and opens the review page when it finishes.

Examples:
  pomt serve
  pomt serve --listen :8080 --data-dir /var/lib/pomt
  POMT_BACKEND=ollama pomt serve --config /etc/pomt.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if workers > 0 {
				cfg.Jobs.Workers = workers
			}
			return runServe(cfg, apiKey)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for uploads, outputs and progress records")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Backend API token (or POMT_API_KEY / HF_TOKEN)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent translation jobs")
	return cmd
}

func runServe(cfg *config.Config, apiKey string) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := backendFor(cfg, apiKey)

	cat, err := buildCatalog(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building model catalog: %w", err)
	}
	logger.Info("model catalog ready", "pairs", cat.Len(), "first", cat.Codes()[0])

	svc, err := translate.NewService(cat, backend, translate.ServiceOptions{
		CacheSize:     cfg.Models.CacheSize,
		MaxInputRunes: cfg.Models.MaxInputRunes,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	ws := jobs.Workspace{Root: cfg.DataDir}
	if err := ws.Prepare(); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}
	store := jobs.NewProgressStore(ws)

	runner := &jobs.Runner{
		Translator:   svc,
		Workspace:    ws,
		Store:        store,
		ErrorMarker:  cfg.Jobs.ErrorMarker,
		EntryTimeout: cfg.Models.Timeout,
		Logger:       logger,
	}
	manager := jobs.NewManager(runner, jobs.ManagerOptions{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Logger:    logger,
	})
	manager.StartJanitor(ctx, cfg.Jobs.JanitorInterval, cfg.Jobs.Retention)

	srv, err := web.New(web.Options{
		Catalog:     cat,
		Manager:     manager,
		Workspace:   ws,
		Store:       store,
		Bundle:      i18n.NewBundle(cfg.UILanguage),
		MaxUpload:   cfg.Server.MaxUpload,
		ErrorMarker: cfg.Jobs.ErrorMarker,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen, "backend", backend.ID, "data_dir", cfg.DataDir)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			shutdownJobs(manager, cfg.Server.ShutdownTimeout, logger)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	shutdownJobs(manager, cfg.Server.ShutdownTimeout, logger)
	return nil
}

// shutdownJobs cancels running jobs and waits for the workers to return.
func shutdownJobs(m *jobs.Manager, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		logger.Warn("job workers did not stop in time", "error", err)
	}
}
