package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/bidengine/internal/auction"
	"github.com/jensholdgaard/bidengine/internal/clock"
	"github.com/jensholdgaard/bidengine/internal/config"
	"github.com/jensholdgaard/bidengine/internal/health"
	"github.com/jensholdgaard/bidengine/internal/httpapi"
	"github.com/jensholdgaard/bidengine/internal/leader"
	"github.com/jensholdgaard/bidengine/internal/notify"
	"github.com/jensholdgaard/bidengine/internal/notify/amqpnotify"
	"github.com/jensholdgaard/bidengine/internal/store"
	"github.com/jensholdgaard/bidengine/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/bidengine/internal/store/memory"
	_ "github.com/jensholdgaard/bidengine/internal/store/postgres"
	_ "github.com/jensholdgaard/bidengine/internal/store/redisstore"
)

var version = "dev"

// newFanOut is replaced in tests.
var newFanOut = notify.NewFanOut

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "store", Check: repos.Ping, Critical: true},
	)

	var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: logger}
	if cfg.Notifier.Driver == "amqp" {
		pub := amqpnotify.New(cfg.Notifier.AMQPURL, cfg.Notifier.Queue, logger, clk)
		defer pub.Close()
		dispatcher = pub
		// Notifications are best-effort, so a broker outage only degrades.
		healthHandler.AddChecker(health.Checker{Name: "broker", Check: pub.Ping})
	}

	fanOut, engine, err := startEngine(cfg, repos, dispatcher, logger, tp.TracerProvider, tp.MeterProvider, clk)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(engine, logger, clk, httpapi.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		Health:         healthHandler,
		TracerProvider: tp.TracerProvider,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	maintenance := auction.NewMaintenance(engine,
		cfg.Bidding.SweepInterval, cfg.Bidding.ReconcileInterval, logger, clk)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if cfg.LeaderElection.Enabled {
			logger.InfoContext(gctx, "leader election enabled, maintenance runs on the leader only")
			if err := leader.Run(gctx, cfg.LeaderElection, logger, maintenance.Run); err != nil {
				return fmt.Errorf("leader election: %w", err)
			}
			return nil
		}
		return maintenance.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		healthHandler.SetReady(false)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		// Bids accepted before shutdown still get their notifications.
		if err := fanOut.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("draining notifications: %w", err))
		}
		stats := fanOut.Stats()
		logger.Info("notification fan-out drained",
			slog.Uint64("dispatched", stats.Dispatched),
			slog.Uint64("failed", stats.Failed),
			slog.Uint64("dropped", stats.Dropped),
		)
		return errors.Join(errs...)
	})

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "bidengine is running", slog.String("version", version))

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// startEngine starts the notification fan-out and the engine that feeds it.
// When the engine cannot be built the fan-out is closed again.
func startEngine(cfg *config.Config, repos *store.Repositories, d notify.Dispatcher, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) (*notify.FanOut, *auction.Engine, error) {
	fanOut, err := newFanOut(d, notify.Options{
		Workers:   cfg.Notifier.Workers,
		QueueSize: cfg.Notifier.QueueSize,
		Timeout:   cfg.Notifier.DispatchTimeout,
	}, logger, mp)
	if err != nil {
		return nil, nil, fmt.Errorf("creating notification fan-out: %w", err)
	}

	engine, err := auction.NewEngine(repos, fanOut, logger, tp, mp, clk,
		auction.WithMinIncrement(cfg.Bidding.Increment()),
	)
	if err != nil {
		// Nothing was enqueued, so this returns once the workers exit.
		if closeErr := fanOut.Close(context.Background()); closeErr != nil {
			logger.Error("closing notification fan-out", slog.Any("error", closeErr))
		}
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	return fanOut, engine, nil
}
