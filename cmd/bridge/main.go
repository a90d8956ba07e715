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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/geotrigger-bridge/internal/adapter/engagement"
	httpadapter "github.com/couchcryptid/geotrigger-bridge/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/geotrigger-bridge/internal/adapter/kafka"
	"github.com/couchcryptid/geotrigger-bridge/internal/adapter/point"
	redisadapter "github.com/couchcryptid/geotrigger-bridge/internal/adapter/redis"
	"github.com/couchcryptid/geotrigger-bridge/internal/adapter/ws"
	"github.com/couchcryptid/geotrigger-bridge/internal/adapter/zonefile"
	"github.com/couchcryptid/geotrigger-bridge/internal/bridge"
	"github.com/couchcryptid/geotrigger-bridge/internal/config"
	"github.com/couchcryptid/geotrigger-bridge/internal/correlator"
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
	"github.com/couchcryptid/geotrigger-bridge/internal/pipeline"
	"github.com/couchcryptid/geotrigger-bridge/internal/session"
	"github.com/couchcryptid/geotrigger-bridge/internal/tags"
)

const (
	maxFeedSubscribers = 32
	engagementTimeout  = 10 * time.Second
)

func main() {
	// A missing .env is fine; the environment wins over the file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Error("close error", "error", err)
			}
		}
	}()

	// Location backend: authenticates sessions and, with ZONE_SOURCE=api,
	// resolves zones.
	var (
		auth        session.Authenticator
		pointClient *point.Client
	)
	if cfg.PointURL != "" {
		pointClient = point.NewClient(cfg.PointURL, point.Credentials{
			PackageName: cfg.PointPackage,
			APIKey:      cfg.PointAPIKey,
			Username:    cfg.PointUsername,
		}, cfg.PointTimeout, metrics, logger)
		auth = pointClient
	} else {
		logger.Warn("POINT_URL not set, sessions authenticate without a location backend")
		auth = session.AuthenticatorFunc(func(context.Context) error { return nil })
	}

	resolver, cached, err := newZoneResolver(cfg, pointClient, metrics, logger)
	if err != nil {
		return err
	}

	registrar, ready, closeRegistrar, err := newRegistrar(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeRegistrar)

	publisher := tags.NewPublisher(registrar, cfg.ChannelID, logger, metrics, tags.WithQueueSize(cfg.TagQueueSize))
	b := bridge.New(
		session.NewManager(auth, logger, metrics),
		correlator.New(logger, metrics),
		publisher,
		logger,
		metrics,
		bridge.WithTagExpiry(cfg.TagExpiry),
	)

	hub := ws.NewHub(b, maxFeedSubscribers, logger)
	delegate := hub.Delegate()
	if cached != nil {
		delegate = bridge.Compose(delegate, &bridge.Delegate{LoggedOut: cached.Purge})
	}
	b.SetDelegate(delegate)

	reader := kafkaadapter.NewReader(cfg, logger)
	closers = append(closers, reader.Close)

	p := pipeline.New(reader, pipeline.NewDecoder(resolver, logger), b, logger, metrics, cfg.BatchSize)
	srv := httpadapter.NewServer(cfg.HTTPAddr, append(readiness{b}, ready...), b, hub, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		b.Logout()
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if cfg.AutoAuthenticate {
		b.Authenticate(gctx)
	}

	return g.Wait()
}

func newZoneResolver(cfg *config.Config, client *point.Client, metrics *observability.Metrics, logger *slog.Logger) (domain.ZoneResolver, *point.CachedResolver, error) {
	switch cfg.ZoneSource {
	case config.ZoneSourceFile:
		r, err := zonefile.Load(cfg.ZoneFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("zone enrichment from file", "path", cfg.ZoneFile, "zones", r.Len())
		return r, nil, nil
	case config.ZoneSourceAPI:
		cached := point.NewCachedResolver(client, cfg.ZoneCacheSize, metrics)
		logger.Info("zone enrichment from location backend", "cache_size", cfg.ZoneCacheSize, "timeout", cfg.PointTimeout)
		return cached, cached, nil
	default:
		logger.Info("zone enrichment disabled")
		return nil, nil, nil
	}
}

func newRegistrar(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tags.Registrar, readiness, func() error, error) {
	switch cfg.Registrar {
	case config.RegistrarRedis:
		client, err := redisadapter.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, nil, err
		}
		r := redisadapter.NewRegistrar(client, logger)
		logger.Info("registering tags in redis", "addr", cfg.RedisAddr)
		return r, readiness{r}, client.Close, nil
	case config.RegistrarHTTP:
		logger.Info("registering tags over http", "url", cfg.EngagementURL, "rps", cfg.EngagementRPS)
		c := engagement.NewClient(cfg.EngagementURL, cfg.EngagementToken, cfg.EngagementRPS, engagementTimeout, logger)
		return c, nil, func() error { return nil }, nil
	default:
		w := kafkaadapter.NewWriter(cfg, logger)
		logger.Info("publishing tag updates to kafka", "topic", cfg.KafkaSinkTopic)
		return w, nil, w.Close, nil
	}
}

type readinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// readiness is ready when every check passes.
type readiness []readinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
