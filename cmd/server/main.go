package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"matrix/internal/matrix"
	"matrix/internal/matrix/events"
	"matrix/internal/matrix/handler"
	matrixmetrics "matrix/internal/matrix/metrics"
	"matrix/internal/matrix/models"
	"matrix/internal/matrix/service"
	"matrix/internal/matrix/store/aggregate"
	memberstore "matrix/internal/matrix/store/member"
	positionstore "matrix/internal/matrix/store/position"
	"matrix/internal/platform/config"
	"matrix/internal/platform/httpserver"
	"matrix/internal/platform/logger"
	"matrix/internal/platform/metrics"
	"matrix/internal/platform/middleware/ratelimit"
	"matrix/internal/platform/postgres"
	"matrix/internal/platform/redis"
	"matrix/internal/servicetoken"
	id "matrix/pkg/domain"
	"matrix/pkg/platform/httputil"
	request "matrix/pkg/platform/middleware/request"
	"matrix/pkg/platform/middleware/requesttime"
	"matrix/pkg/platform/sentinel"
)

const (
	eventBuffer     = 1024
	shutdownTimeout = 10 * time.Second
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/matrix.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("matrix server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.New()
	m := matrixmetrics.New(registry.Registerer())

	tiers, err := loadTiers(cfg.Matrix)
	if err != nil {
		return err
	}

	deps, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	sink, closeSink, err := openEventSink(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer closeSink()

	dispatcher := events.NewDispatcher(sink, eventBuffer, log,
		events.WithFailureHook(m.IncrementEventFailure),
	)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = dispatcher.Run(dispatchCtx)
	}()

	svc := matrix.NewService(deps.positions, deps.members, tiers,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithCountCache(deps.cache),
		service.WithPublisher(dispatcher),
		service.WithMaxAttempts(cfg.Matrix.MaxAttempts),
		service.WithMaxDownlineDepth(cfg.Matrix.MaxDownline),
		service.WithOrphanPolicy(service.OrphanPolicy(cfg.Matrix.OrphanPolicy)),
	)
	if err := seedRoot(ctx, svc, cfg.Matrix.SeedRootOwnerID, log); err != nil {
		return err
	}

	tokens := servicetoken.New(cfg.Server.ServiceTokenKey, cfg.Server.TokenIssuer, cfg.Server.TokenAudience)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(request.Timeout(cfg.Server.RequestTimeout))
	r.Use(requesttime.Middleware)
	writeLimit := ratelimit.New(deps.limits, cfg.Server.WriteRateLimit, cfg.Server.WriteRateWindow, log,
		ratelimit.WithScope("matrix-writes"),
		ratelimit.WithMetrics(registry.Registerer()),
	)
	matrix.NewHandler(svc, log, tokens, handler.WithWriteMiddleware(writeLimit.Limit)).Register(r)
	r.Get("/health", deps.healthHandler)
	r.Handle("/metrics", registry.Handler())

	srv := httpserver.New(cfg.Server, r)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting matrix service",
			"addr", cfg.Server.Addr,
			"persistence", deps.kind,
			"orphan_policy", cfg.Matrix.OrphanPolicy,
			"tiers", len(tiers.Tiers()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	stopDispatch()
	<-dispatchDone
	log.Info("matrix service stopped")
	return nil
}

func loadTiers(cfg config.Matrix) (*models.TierCatalog, error) {
	if cfg.TiersFile != "" {
		return models.LoadTierCatalog(cfg.TiersFile, cfg.Width)
	}
	return models.DefaultTierCatalog(cfg.Width)
}

type dependencies struct {
	kind      string
	db        *sql.DB
	redis     *redis.Client
	positions service.PositionStore
	members   service.MemberDirectory
	cache     service.CountCache
	limits    ratelimit.Store
}

// openStores selects PostgreSQL and Redis when configured, memory otherwise.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*dependencies, error) {
	deps := &dependencies{kind: "memory"}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		deps.kind = "postgres"
		deps.db = db
		deps.positions = positionstore.NewPostgres(db)
		deps.members = memberstore.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set, positions are kept in memory")
		deps.positions = positionstore.NewInMemory()
		deps.members = memberstore.NewInMemory()
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	if client != nil {
		deps.redis = client
		deps.cache = aggregate.NewRedis(client.Client, cfg.Matrix.CountCacheTTL)
		deps.limits = ratelimit.NewRedis(client.Client)
	} else {
		deps.cache = aggregate.NewInMemory(cfg.Matrix.CountCacheTTL)
		deps.limits = ratelimit.NewInMemory()
	}
	return deps, nil
}

func (d *dependencies) close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func (d *dependencies) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{"status": "ok", "persistence": d.kind}
	code := http.StatusOK
	if d.db != nil {
		if err := d.db.PingContext(ctx); err != nil {
			status["status"], status["database"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if d.redis != nil {
		if err := d.redis.Health(ctx); err != nil {
			status["status"], status["redis"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, code, status)
}

// openEventSink returns the Kafka publisher when brokers are configured.
func openEventSink(ctx context.Context, cfg config.Kafka, log *slog.Logger) (events.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, position events stay in process")
		return events.NewInMemory(), func() {}, nil
	}

	producer, err := events.NewKafka(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, nil, err
	}
	if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("could not ensure placement topic", "topic", cfg.Topic, "error", err)
	}
	closeFn := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := producer.Close(flushCtx); err != nil {
			log.Error("failed to flush placement events", "error", err)
		}
	}
	return producer, closeFn, nil
}

// seedRoot places the configured owner as a root on first boot.
func seedRoot(ctx context.Context, svc *matrix.Service, rawOwnerID string, log *slog.Logger) error {
	if rawOwnerID == "" {
		return nil
	}
	ownerID, err := id.ParseOwnerID(rawOwnerID)
	if err != nil {
		return err
	}
	if _, err := svc.GetByOwner(ctx, ownerID); err == nil {
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}

	tiers := svc.Tiers()
	placement, err := svc.PlaceUnder(ctx, ownerID, tiers[0].ID, nil)
	if err != nil {
		return err
	}
	log.Info("seeded root position",
		"owner_id", ownerID.String(),
		"position_id", placement.Position.ID.String(),
	)
	return nil
}
