package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SignalFeed/internal/usecase"
	applogger "SignalFeed/pkg/logger"
)

// PriceService is the part of the price use case the lifecycle drives.
type PriceService interface {
	WarmStart(ctx context.Context, opts usecase.WarmStartOptions) error
	RunRefresh(ctx context.Context, interval time.Duration)
}

// Supervisor runs and stops the source workers.
type Supervisor interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// HTTPServer is an optional HTTP surface.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Options are the lifecycle settings taken from config.
type Options struct {
	WarmStart       usecase.WarmStartOptions
	RefreshInterval time.Duration
	ShutdownTimeout time.Duration
}

// App encapsulates the entire application lifecycle.
type App struct {
	opts       Options
	logger     *applogger.Logger
	svc        PriceService
	supervisor Supervisor
	httpServer HTTPServer
	closers    []namedCloser
	wg         sync.WaitGroup
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New creates a new App instance with all dependencies. httpServer may be nil.
func New(opts Options, logger *applogger.Logger, svc PriceService, supervisor Supervisor, httpServer HTTPServer) *App {
	if logger == nil {
		logger = applogger.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &App{
		opts:       opts,
		logger:     logger,
		svc:        svc,
		supervisor: supervisor,
		httpServer: httpServer,
	}
}

// AddCloser registers an infrastructure client closed on shutdown, in
// reverse registration order. Nil closers are ignored.
func (a *App) AddCloser(name string, c io.Closer) {
	if c == nil {
		return
	}
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.svc.WarmStart(ctx, a.opts.WarmStart); err != nil {
		a.closeAll()
		return fmt.Errorf("warm start: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.supervisor.Run(runCtx)
	}()

	if a.opts.RefreshInterval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.svc.RunRefresh(runCtx, a.opts.RefreshInterval)
		}()
		a.logger.Info("refresh loop started", applogger.Duration("interval", a.opts.RefreshInterval))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			cancel()
			return errors.Join(err, a.shutdown())
		}
	}

	a.logger.Info("service started")
	<-ctx.Done()

	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if err := a.supervisor.Shutdown(ctx); err != nil {
		a.logger.Warn("supervisor shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("background loops did not stop in time")
	}

	a.closeAll()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("component", nc.name), applogger.Error(err))
		}
	}
	a.closers = nil
}
