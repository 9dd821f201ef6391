// Package server initializes and runs the camwatch service. It wires the
// storage client, transfer engine, orchestrator and collaborators together,
// starts the HTTP API and handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/camwatch/internal/capture"
	"github.com/dmitrijs2005/camwatch/internal/filex"
	"github.com/dmitrijs2005/camwatch/internal/location"
	"github.com/dmitrijs2005/camwatch/internal/logging"
	"github.com/dmitrijs2005/camwatch/internal/notify"
	"github.com/dmitrijs2005/camwatch/internal/server/config"
	"github.com/dmitrijs2005/camwatch/internal/server/httpapi"
	"github.com/dmitrijs2005/camwatch/internal/storage/drive"
	"github.com/dmitrijs2005/camwatch/internal/trigger"
	"github.com/dmitrijs2005/camwatch/internal/upload"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	uploads  *upload.Manager
	triggers *trigger.Manager
	locator  *location.CachedProvider
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)})))

	tokens, err := drive.NewServiceAccountTokenSource(c.DriveKeyFile, drive.DefaultScope)
	if err != nil {
		return nil, fmt.Errorf("storage auth init error: %w", err)
	}
	storage := drive.NewClient(tokens)

	uploads := upload.NewManager(storage, logger,
		upload.WithDefaultFolder(c.DriveFolderID))

	recorder := capture.NewVideoHandler(c.CaptureInterpreter, c.CaptureScript, logger)
	notifier := notify.NewModemSender(c.MmcliPath, c.ModemIndex, logger)
	locator := location.NewCachedProvider(
		location.NewModemGPS(c.MmcliPath, c.ModemIndex),
		c.LocationRefreshInterval, c.LocationTimeout, logger)

	recordingsDir, err := filex.EnsureSubdDir("recordings")
	if err != nil {
		return nil, fmt.Errorf("recordings dir init error: %w", err)
	}

	triggers := trigger.NewManager(recorder, uploads, notifier, locator, logger,
		trigger.WithPollInterval(c.RecordingPollInterval),
		trigger.WithRecordingCeiling(c.RecordingCeiling),
		trigger.WithEarlyThreshold(c.EarlyNotifyPercent),
		trigger.WithLocationTimeout(c.LocationTimeout),
		trigger.WithOutputDir(recordingsDir))

	return &App{
		config:   c,
		logger:   logger,
		uploads:  uploads,
		triggers: triggers,
		locator:  locator,
	}, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	handler := httpapi.NewHandler(app.uploads, app.triggers, app.logger)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: httpapi.Router(handler),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.locator.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

}
