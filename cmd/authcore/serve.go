package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/schoolnotes/authcore"
	"github.com/schoolnotes/authcore/directory/memory"
	"github.com/schoolnotes/authcore/directory/postgres"
	"github.com/schoolnotes/authcore/internal/httpapi"
	"github.com/schoolnotes/authcore/internal/logging"
	"github.com/schoolnotes/authcore/internal/settings"
	authprom "github.com/schoolnotes/authcore/metrics/export/prometheus"
)

const (
	serviceName     = "authcore"
	connectAttempts = 5
)

// retryBase is the first backoff between connection attempts.
var retryBase = 500 * time.Millisecond

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. Accounts are stored in PostgreSQL when database.url
is set and in memory otherwise. Login throttling needs redis.addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settings.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, s)
		},
	}

	settings.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, s settings.Settings) error {
	level, err := logging.ParseLevel(s.Logging.Level)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	logger := logging.Setup(serviceName, version, s.Logging.Format, level, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting authcore", "env", s.Server.Env, "addr", s.Addr())

	dir, closeDir, err := openDirectory(ctx, s, logger)
	if err != nil {
		return err
	}
	defer closeDir()

	var rdb *redis.Client
	if s.Redis.Addr != "" {
		rdb, err = openRedis(ctx, s.Redis.Addr, logger)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	} else {
		logger.Warn("redis.addr not set; login throttling disabled")
	}

	engine, err := buildEngine(s, dir, rdb, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := bootstrapAdmin(ctx, engine, s, logger); err != nil {
		return err
	}

	registry := authprom.NewRegistry(authprom.NewCollector(engine))
	srv, err := httpapi.New(httpapi.Deps{
		Engine:  engine,
		Logger:  logger,
		Version: version,
		Metrics: authprom.Handler(registry),

		TrustProxyHeaders: s.Server.TrustProxyHeaders,
	})
	if err != nil {
		return err
	}

	errCh := srv.Start(s.Addr())
	cmd.Println("authcore listening on " + s.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
	}

	if err := srv.Close(); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// openDirectory connects to postgres when configured, running migrations
// first if asked, and falls back to an in-memory directory.
func openDirectory(ctx context.Context, s settings.Settings, logger *slog.Logger) (authcore.AccountDirectory, func(), error) {
	if s.Database.URL == "" {
		logger.Warn("database.url not set; accounts are kept in memory")
		return memory.New(), func() {}, nil
	}

	if s.Database.MigrateOnStartup {
		if err := migrateUp(s.Database.URL); err != nil {
			return nil, nil, err
		}
		logger.Info("migrations applied")
	}

	var pool *pgxpool.Pool
	err := withRetry(ctx, logger, "connect postgres", func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, s.Database.URL)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}

	logger.Info("connected to database")
	return postgres.New(pool), pool.Close, nil
}

func migrateUp(databaseURL string) error {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
	}
	return nil
}

func openRedis(ctx context.Context, addr string, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	err := withRetry(ctx, logger, "connect redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	logger.Info("connected to redis", "addr", addr)
	return rdb, nil
}

// withRetry runs fn with exponential backoff until it succeeds, ctx ends,
// or connectAttempts retries are spent.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(retryBase))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			logger.Warn("retrying", "operation", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func buildEngine(s settings.Settings, dir authcore.AccountDirectory, rdb *redis.Client, logger *slog.Logger) (*authcore.Engine, error) {
	var secret []byte
	if s.JWT.Secret == "" {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, oops.Code("SECRET_GENERATION_FAILED").Wrap(err)
		}
		logger.Warn("jwt.secret not set; using a random secret, tokens will not survive a restart")
	}

	b := authcore.New().
		WithConfig(s.EngineConfig(secret)).
		WithDirectory(dir).
		WithLogger(logger).
		WithAuditSink(authcore.NewSlogSink(logger))
	if rdb != nil {
		b = b.WithRedis(rdb)
	}

	engine, err := b.Build()
	if err != nil {
		return nil, oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}
	return engine, nil
}

func bootstrapAdmin(ctx context.Context, engine *authcore.Engine, s settings.Settings, logger *slog.Logger) error {
	if s.Admin.Email == "" {
		return nil
	}

	admin, created, err := engine.EnsureAdmin(ctx, s.Admin.Email, s.Admin.Password)
	if err != nil {
		return oops.Code("ADMIN_BOOTSTRAP_FAILED").With("email", s.Admin.Email).Wrap(err)
	}
	if created {
		logger.Info("admin account created", "account_id", admin.ID.String())
	} else {
		logger.Info("admin account present", "account_id", admin.ID.String())
	}
	return nil
}
