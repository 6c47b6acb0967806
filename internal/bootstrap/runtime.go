package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitevents/db"
	"gitevents/internal/api"
	"gitevents/internal/config"
	"gitevents/internal/ingest"
	"gitevents/internal/migrate"
	"gitevents/internal/observability"
	"gitevents/internal/providers/github"
	"gitevents/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"

	_ "modernc.org/sqlite"
)

const (
	pingAttempts       = 5
	pingInitialBackoff = 500 * time.Millisecond
	pingTimeout        = 5 * time.Second
)

type Runtime struct {
	Handler    http.Handler
	Repository store.Repository
	Cleanup    func()
}

// NewRuntime wires the record store, the ingestion pipeline and the HTTP
// surface. A database that cannot be reached or migrated is an error; there
// is no silent fallback to the memory store.
func NewRuntime(ctx context.Context, cfg config.Config, logger logr.Logger) (*Runtime, error) {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	repo, cleanup, err := buildRepository(ctx, cfg, logger.WithName("store"))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ingestMetrics := observability.NewIngestMetrics(reg)
	httpMetrics := observability.NewHTTPMetrics(reg, append(api.RoutePaths, "/metrics")...)

	pipeline := ingest.NewPipeline(github.NewAdapter(cfg.WebhookSecret), repo,
		ingest.WithLogger(logger.WithName("ingest")),
		ingest.WithObserver(ingestMetrics),
	)
	server := api.NewServerWithOptions(pipeline, repo, api.ServerOptions{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Audit: api.AuditPolicy{
			LogFile: cfg.Audit.LogFile,
		},
		Rate: api.RateLimitPolicy{
			Enabled:          cfg.RateLimit.Enabled,
			WebhookPerMinute: cfg.RateLimit.WebhookPerMinute,
			ReadPerMinute:    cfg.RateLimit.ReadPerMinute,
		},
		TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		Logger:            logger.WithName("api"),
	})

	rootMux := http.NewServeMux()
	rootMux.Handle("/metrics", httpMetrics.Wrap(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	rootMux.Handle("/", httpMetrics.Wrap(server.Routes()))

	return &Runtime{
		Handler:    rootMux,
		Repository: repo,
		Cleanup:    cleanup,
	}, nil
}

func buildRepository(ctx context.Context, cfg config.Config, logger logr.Logger) (store.Repository, func(), error) {
	if cfg.UseMemoryStore() {
		logger.Info("running with in-memory repository")
		return store.NewMemoryRepository(), func() {}, nil
	}

	conn, err := sql.Open(cfg.DBDriver, applyPostgresTLS(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closeDB := func() { _ = conn.Close() }

	if err := pingWithRetry(ctx, conn, logger); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.DBMigrate {
		if err := migrate.NewRunner(db.Migrations).Apply(ctx, conn, cfg.DBDialect); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	repo, err := store.NewSQLRepository(conn, cfg.DBDialect)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	logger.Info("running with SQL repository", "dialect", cfg.DBDialect, "migrate", cfg.DBMigrate)
	return repo, closeDB, nil
}

func pingWithRetry(ctx context.Context, conn *sql.DB, logger logr.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pingInitialBackoff

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		err := conn.PingContext(pingCtx)
		if err != nil {
			logger.Info("database not reachable", "attempt", attempt, "error", err.Error())
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, pingAttempts-1), ctx))
}

func applyPostgresTLS(cfg config.Config) string {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver != "pgx" {
		return cfg.DBDSN
	}
	if strings.TrimSpace(cfg.DB.SSLMode) == "" &&
		strings.TrimSpace(cfg.DB.SSLRootCert) == "" &&
		strings.TrimSpace(cfg.DB.SSLCert) == "" &&
		strings.TrimSpace(cfg.DB.SSLKey) == "" {
		return cfg.DBDSN
	}
	u, err := url.Parse(cfg.DBDSN)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return cfg.DBDSN
	}
	q := u.Query()
	for key, value := range map[string]string{
		"sslmode":     cfg.DB.SSLMode,
		"sslrootcert": cfg.DB.SSLRootCert,
		"sslcert":     cfg.DB.SSLCert,
		"sslkey":      cfg.DB.SSLKey,
	} {
		if v := strings.TrimSpace(value); v != "" {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
