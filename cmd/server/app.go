package main

import (
	"context"
	"fmt"

	"github.com/rpattn/cdranalytics/internal/cache"
	"github.com/rpattn/cdranalytics/internal/config"
	"github.com/rpattn/cdranalytics/internal/db"
	"github.com/rpattn/cdranalytics/internal/ingestion"
	"github.com/rpattn/cdranalytics/internal/logging"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	conn     *db.Connection
	records  repository.CallRecordRepository
	logRepo  repository.IngestionLogRepository
	registry *prometheus.Registry
	ingest   *ingestion.Service
	redis    *redis.Client
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.Source != "" {
		logger.Info("loaded config", zap.String("file", cfg.Source))
	} else {
		logger.Info("no config file found, using defaults and env vars")
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	conn, err := db.NewConnection(ctx, cfg.Database.DB(), logger.Named("db"))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		logRepo:  repository.NewIngestionLogRepository(conn.Pool),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := a.cacheStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.records = repository.NewCallRecordRepository(conn)
	if store != nil {
		a.records = repository.NewCachedCallRecordRepository(a.records, store, cfg.Cache.TTL, logger.Named("cache"))
	}

	a.ingest = ingestion.NewService(
		a.records,
		a.logRepo,
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithMaxLineBytes(cfg.Ingestion.MaxLineBytes),
		ingestion.WithMaxLoggedRejections(cfg.Ingestion.MaxLoggedRejections),
		ingestion.WithLogger(logger.Named("ingestion")),
		ingestion.WithMetrics(ingestion.NewMetrics(a.registry)),
	)
	return a, nil
}

func (a *app) cacheStore(ctx context.Context) (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheLocal:
		a.logger.Info("query cache enabled", zap.String("backend", config.CacheLocal), zap.Duration("ttl", a.cfg.Cache.TTL))
		return cache.NewLocalStore(a.cfg.Cache.TTL), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Cache.RedisAddr, err)
		}
		a.redis = client
		a.logger.Info("query cache enabled", zap.String("backend", config.CacheRedis), zap.String("addr", a.cfg.Cache.RedisAddr))
		return cache.NewRedisStore(client, a.cfg.Cache.Prefix), nil
	default:
		return nil, nil
	}
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	a.conn.Close()
	_ = a.logger.Sync()
}
