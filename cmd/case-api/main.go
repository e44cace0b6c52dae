package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/handler"
	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/repository"
	"github.com/noah-isme/reentry-case-api/internal/service"
	"github.com/noah-isme/reentry-case-api/pkg/cache"
	"github.com/noah-isme/reentry-case-api/pkg/config"
	"github.com/noah-isme/reentry-case-api/pkg/database"
	"github.com/noah-isme/reentry-case-api/pkg/export"
	"github.com/noah-isme/reentry-case-api/pkg/jobs"
	"github.com/noah-isme/reentry-case-api/pkg/logger"
)

// @title Reentry Case API
// @version 1.0.0
// @description Participant lifecycle service for the reentry mentorship program
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

type participantStore interface {
	handler.Pinger
	Create(ctx context.Context, participant *models.Participant) error
	GetByID(ctx context.Context, id string) (*models.Participant, error)
	List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, error)
	FindByContact(ctx context.Context, field repository.ContactField, value string) ([]models.Participant, error)
	Apply(ctx context.Context, mutation models.ParticipantMutation) error
	Delete(ctx context.Context, id string) error
}

type changeFeed interface {
	Publish(ctx context.Context, event models.ParticipantEvent) error
	Subscribe(ctx context.Context) (<-chan models.ParticipantEvent, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()

	store, closeStore := openStore(ctx, cfg, logr)
	defer closeStore()

	feed, closeFeed := openFeed(ctx, cfg, logr)
	defer closeFeed()

	dispatcher := service.NewChangeDispatcher(feed, jobs.QueueConfig{
		Workers:    cfg.Feed.WorkerConcurrency,
		MaxRetries: cfg.Feed.WorkerRetries,
		RetryDelay: cfg.Feed.RetryDelay,
	}, metrics, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	directory := service.NewParticipantDirectory(store, feed, cfg.Directory.RefreshInterval, metrics, logr)
	if err := directory.Start(ctx); err != nil {
		logr.Warn("participant directory not following change feed", zap.Error(err))
	}

	participants := service.NewParticipantService(store, validator.New(), logr,
		service.WithParticipantDirectory(directory),
		service.WithParticipantNotifier(dispatcher),
		service.WithParticipantMetrics(metrics),
	)

	participantHandler := handler.NewParticipantHandler(participants, nil)
	if cfg.Export.Enabled {
		participantHandler = handler.NewParticipantHandler(participants, service.NewHistoryExportService(participants, logr, &export.CSVExporter{BOM: cfg.Export.CSVBOM}, nil))
	}

	checks := map[string]handler.Pinger{"store": store}

	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	router := newRouter(routerDeps{
		cfg:          cfg,
		logger:       logr,
		metrics:      metrics,
		auth:         auth,
		participants: participantHandler,
		ops:          handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Store.Driver, "feed", cfg.Feed.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns nil when the configured store cannot be reached; the API
// then runs degraded, serving reads from the directory.
func openStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (participantStore, func()) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logr.Info("using in-memory participant store")
		return repository.NewMemoryParticipantRepository(), func() {}
	default:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Error("participant store unavailable, running degraded", zap.Error(err))
			return nil, func() {}
		}
		return repository.NewParticipantRepository(db), func() { _ = db.Close() }
	}
}

// openFeed prefers Redis so every instance sees every change. Without it the
// feed only spans this process.
func openFeed(ctx context.Context, cfg *config.Config, logr *zap.Logger) (changeFeed, func()) {
	if cfg.Feed.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err == nil {
			return repository.NewRedisChangeFeed(client, cfg.Feed.Channel, logr), func() { _ = client.Close() }
		}
		logr.Warn("redis change feed unavailable, using in-process feed", zap.Error(err))
	}
	return repository.NewMemoryChangeFeed(), func() {}
}
