package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hfstack/ai-web-studio/internal/config"
	"github.com/hfstack/ai-web-studio/internal/db"
	"github.com/hfstack/ai-web-studio/internal/detached"
	"github.com/hfstack/ai-web-studio/internal/logging"
	"github.com/hfstack/ai-web-studio/internal/metrics"
	"github.com/hfstack/ai-web-studio/internal/pty"
	"github.com/hfstack/ai-web-studio/internal/repository"
	"github.com/hfstack/ai-web-studio/internal/scheduler"
	"github.com/hfstack/ai-web-studio/internal/session"
	"github.com/hfstack/ai-web-studio/internal/terminal"
	"github.com/hfstack/ai-web-studio/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(settings.LogLevel, settings.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if settings.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Open(settings.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	a, err := newApp(settings, database, pty.ShellSpawner{}, logger, metrics.New(nil))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.supervisor.Recover(ctx); err != nil {
		logger.Warn("recovering detached processes failed", zap.Error(err))
	}
	return a.run(ctx)
}

// app is the assembled server.
type app struct {
	settings *config.Settings
	logger   *zap.Logger
	metrics  *metrics.Metrics

	registry   *session.Registry
	binder     *session.Binder
	reaper     *session.Reaper
	terminal   *terminal.Service
	hub        *ws.Hub
	supervisor *detached.Supervisor
	scheduler  *scheduler.Scheduler
	router     *gin.Engine
}

func newApp(settings *config.Settings, database *sql.DB, spawner pty.Spawner, logger *zap.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{
		settings: settings,
		logger:   logger,
		metrics:  m,
	}

	a.registry = session.NewRegistry(spawner, session.Config{
		Shell:        settings.ShellPath,
		Rows:         settings.TerminalRows,
		Cols:         settings.TerminalCols,
		BufferSize:   settings.OutputBufferBytes,
		RecordingDir: settings.RecordingDir,
	}, logger.Named("sessions"), m)
	a.binder = session.NewBinder(a.registry, logger.Named("binder"), m)
	a.reaper = session.NewReaper(a.registry, settings.SessionTimeout, logger.Named("reaper"))
	a.terminal = terminal.NewService(a.registry, a.binder, logger.Named("terminal"))
	a.hub = ws.NewHub()

	a.supervisor = detached.NewSupervisor(spawner, repository.NewProcessRepository(database), detached.Config{
		Shell:          settings.ShellPath,
		Rows:           settings.TerminalRows,
		Cols:           settings.TerminalCols,
		DefaultTimeout: settings.DetachedDefaultTimeout,
		MessageLimit:   settings.DetachedMessageLimit,
		AdvertiseHost:  settings.AdvertiseHost,
	}, logger.Named("detached"), m)

	a.scheduler = scheduler.New(logger.Named("scheduler"))
	if err := a.scheduler.Every("session-reaper", settings.ReapInterval, a.reaper); err != nil {
		return nil, err
	}
	if err := a.scheduler.Every("process-sweep", settings.SweepInterval, a.supervisor); err != nil {
		return nil, err
	}

	a.router = a.newRouter()
	return a, nil
}

// run serves HTTP until ctx is done, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.settings.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx, srv)
	})
	return g.Wait()
}

// shutdown stops the jobs and the listener, then releases every session
// and in-memory detached process.
func (a *app) shutdown(ctx context.Context, srv *http.Server) error {
	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	a.hub.Close()
	a.registry.Close()
	a.supervisor.Close()
	return errors.Join(errs...)
}
