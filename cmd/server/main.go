package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"agrosentry/internal/auth"
	"agrosentry/internal/config"
	"agrosentry/internal/events"
	natspub "agrosentry/internal/events/nats"
	"agrosentry/internal/fleet"
	"agrosentry/internal/ingest"
	"agrosentry/internal/metrics"
	"agrosentry/internal/repo/postgres"
	"agrosentry/internal/repo/sqlite"
	"agrosentry/internal/transport/grpcapi"
	"agrosentry/internal/transport/httpapi"
	"agrosentry/internal/transport/natsapi"
	"agrosentry/internal/transport/thriftapi"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// storage is the optional persistence behind the engine.
type storage struct {
	history fleet.History
	reader  fleet.HistoryReader
	outbox  events.OutboxRepository
	pending func(context.Context) (int64, error)
	close   func()
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	switch cfg.Persistence {
	case config.PersistencePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return storage{}, fmt.Errorf("db: %w", err)
		}
		if cfg.MigrateOnStart {
			if err := postgres.ApplyMigrations(ctx, pool, "migrations"); err != nil {
				pool.Close()
				return storage{}, fmt.Errorf("migrate: %w", err)
			}
		}
		store := postgres.NewStore(pool)
		logger.Info("history stored in postgres")
		return storage{history: store, reader: store, outbox: store, pending: store.PendingCount, close: pool.Close}, nil
	case config.PersistenceSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return storage{}, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info("history stored in sqlite", "path", cfg.SQLitePath)
		return storage{history: store, reader: store, outbox: store, pending: store.PendingCount, close: func() { _ = store.Close() }}, nil
	default:
		logger.Info("history persistence disabled")
		return storage{close: func() {}}, nil
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting fleet server", "config", cfg.String())
	metrics.Init()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	var nc *nats.Conn
	if cfg.NATSEnabled {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("fleet-server"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
	}

	opts := []fleet.Option{fleet.WithLogger(logger)}
	if store.history != nil {
		opts = append(opts, fleet.WithHistory(store.history))
	}
	if nc != nil {
		opts = append(opts, fleet.WithCommandSink(natsapi.NewCommandPublisher(nc, cfg.CommandSubjectPrefix)))
	}
	engine, err := fleet.New(cfg.Engine(), opts...)
	if err != nil {
		return err
	}

	if err := metrics.RegisterGauge("drones", "Drones currently registered", func() float64 {
		return float64(engine.Size())
	}); err != nil {
		logger.Warn("drones gauge not registered", "error", err)
	}
	if store.pending != nil {
		if err := metrics.RegisterGauge("outbox_pending", "Outbox events awaiting relay", func() float64 {
			n, err := store.pending(context.Background())
			if err != nil {
				return -1
			}
			return float64(n)
		}); err != nil {
			logger.Warn("outbox gauge not registered", "error", err)
		}
	}

	authenticator := auth.New(cfg.JWTSecret, cfg.JWTTTL)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(engine, authenticator, store.reader),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcapi.NewServer(engine, authenticator)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	thriftServer, err := thriftapi.NewServer(cfg.ThriftAddr, engine, authenticator)
	if err != nil {
		return fmt.Errorf("thrift: %w", err)
	}

	var telemetrySub *natsapi.TelemetrySubscriber
	if nc != nil {
		telemetrySub = natsapi.NewTelemetrySubscriber(nc, cfg.TelemetrySubject, ingest.NewAdapter(engine), logger)
		if err := telemetrySub.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("grpc listening", "addr", cfg.GRPCAddr)
		err := grpcServer.Serve(grpcListener)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("thrift listening", "addr", cfg.ThriftAddr)
		return thriftServer.Serve()
	})

	if cfg.OutboxEnabled && store.outbox != nil && nc != nil {
		worker := &events.OutboxWorker{
			Repo:         store.outbox,
			Publisher:    natspub.NewWithConn(nc, cfg.EventsSubject),
			PollInterval: cfg.OutboxInterval,
			BatchSize:    cfg.OutboxBatch,
			Logger:       logger,
		}
		g.Go(func() error {
			logger.Info("outbox relay running", "interval", cfg.OutboxInterval, "batch", cfg.OutboxBatch)
			err := worker.Start(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if telemetrySub != nil {
			_ = telemetrySub.Stop()
		}
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		_ = thriftServer.Stop()
		engine.Close()
		return nil
	})

	return g.Wait()
}
