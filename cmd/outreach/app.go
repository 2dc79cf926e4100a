package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	outreach "github.com/goliatone/go-outreach"
	"github.com/goliatone/go-outreach/adapters/gologger"
	"github.com/goliatone/go-outreach/adapters/kafka"
	"github.com/goliatone/go-outreach/adapters/prommetrics"
	"github.com/goliatone/go-outreach/adapters/redisnotify"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/migrations"
	sqlstore "github.com/goliatone/go-outreach/store/sql"
)

type dbConfig struct {
	env Env
}

func (c dbConfig) GetDebug() bool                { return c.env.DBDebug }
func (c dbConfig) GetDriver() string             { return c.env.DBDriver }
func (c dbConfig) GetServer() string             { return c.env.DBDSN }
func (c dbConfig) GetPingTimeout() time.Duration { return c.env.DBPingTimeout }
func (c dbConfig) GetOtelIdentifier() string     { return "go-outreach" }

// app owns the process level collaborators behind a Runtime.
type app struct {
	env       Env
	logger    *zap.Logger
	logs      *gologger.ZapProvider
	client    *persistence.Client
	stores    *sqlstore.Stores
	registry  *prometheus.Registry
	metrics   *prommetrics.Recorder
	redis     *redis.Client
	notifier  *redisnotify.Notifier
	publisher *kafka.Publisher
	runtime   *outreach.Runtime
}

func newLogger(env Env) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(env.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("outreach: log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if env.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// openDatabase opens the configured driver and registers the schema
// migrations for its dialect.
func openDatabase(ctx context.Context, env Env) (*persistence.Client, error) {
	dialect, err := migrations.DialectForDriver(env.DBDriver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(env.DBDriver, env.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("outreach: open %s: %w", env.DBDriver, err)
	}
	if dialect == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	var client *persistence.Client
	switch dialect {
	case migrations.DialectSQLite:
		client, err = persistence.New(dbConfig{env: env}, sqlDB, sqlitedialect.New())
	default:
		client, err = persistence.New(dbConfig{env: env}, sqlDB, pgdialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("outreach: persistence client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, env.DBPingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("outreach: ping %s: %w", env.DBDriver, err)
	}

	_, err = migrations.Register(dialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// openApp connects storage and the optional Redis and Kafka integrations and
// builds the runtime over them.
func openApp(ctx context.Context, env Env) (_ *app, err error) {
	a := &app{env: env}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.logger, err = newLogger(env); err != nil {
		return nil, err
	}
	a.logs = gologger.NewZapProvider(a.logger)

	if a.client, err = openDatabase(ctx, env); err != nil {
		return nil, err
	}
	if a.stores, err = sqlstore.FromPersistence(a.client); err != nil {
		return nil, err
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = env.JobCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("outreach: job cache: %w", err)
	}
	reader, err := sqlstore.NewCachedJobReader(a.stores.Jobs, cacheService)
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = prommetrics.New(prommetrics.WithRegistry(a.registry))

	opts := []outreach.Option{
		outreach.WithStores(a.stores),
		outreach.WithJobReader(reader),
		outreach.WithLoggerProvider(a.logs),
		outreach.WithMetricsRecorder(a.metrics),
	}

	if env.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: env.RedisAddr, Password: env.RedisPassword})
		if a.notifier, err = redisnotify.New(ctx, a.redis, env.RedisChannel); err != nil {
			return nil, err
		}
		opts = append(opts, outreach.WithNotifier(a.notifier))
	}
	if len(env.KafkaBrokers) > 0 {
		if a.publisher, err = kafka.Dial(env.KafkaBrokers, env.KafkaTopic); err != nil {
			return nil, err
		}
		opts = append(opts, outreach.WithEventPublisher(a.publisher))
	}

	provider := core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: env.Raw()})
	if a.runtime, err = outreach.Setup(ctx, outreach.Config{}, provider, opts...); err != nil {
		return nil, err
	}
	a.logger.Info("outreach app ready",
		zap.String("db_driver", env.DBDriver),
		zap.Bool("redis", a.notifier != nil),
		zap.Bool("kafka", a.publisher != nil),
	)
	return a, nil
}

// Ping reports whether the database answers.
func (a *app) Ping(ctx context.Context) error {
	if a == nil || a.client == nil {
		return errors.New("outreach: database is not configured")
	}
	return a.client.DB().PingContext(ctx)
}

// Close drains the runtime and releases connections in reverse order.
func (a *app) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.runtime != nil {
		errs = append(errs, a.runtime.Close(ctx))
	} else if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
