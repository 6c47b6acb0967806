package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"gitevents/internal/bootstrap"
	"gitevents/internal/config"

	"github.com/go-logr/zapr"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appName = "gitevents"

// Version is set via a ldflag on compilation
var Version = "unknown"

var logger *zap.Logger

type arguments struct {
	Verbose     *bool
	EnvFile     *string
	ShowVersion *bool
}

var args arguments

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		EnvFile: pflag.String(
			"env-file",
			".env",
			"dotenv file loaded before reading GITEVENTS_* variables, ignored when missing",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nReceive GitHub webhook events and record pushes, pull requests and merges.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustLoadCfg() config.Config {
	// the logger is not initialized yet, errors go through exitOnErr

	if err := godotenv.Load(*args.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		exitOnErr(fmt.Sprintf("could not load env file: %s", *args.EnvFile), err)
	}

	cfg, err := config.LoadFromEnv()
	exitOnErr("could not load configuration", err)
	exitOnErr("invalid configuration", cfg.Validate())

	return cfg
}

func zapEncoderConfig(cfg config.Config) zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()

	encCfg.TimeKey = cfg.Log.TimeKey
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	return encCfg
}

func mustInitLogger(cfg config.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(cfg.Log.Level); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", cfg.Log.Level, err)
			os.Exit(2)
		}
	}

	switch cfg.Log.Format {
	case "logfmt":
		logger = zap.New(zapcore.NewCore(
			zaplogfmt.NewEncoder(zapEncoderConfig(cfg)),
			os.Stdout,
			logLevel,
		))
	case "console", "json":
		zapCfg := zap.NewProductionConfig()
		zapCfg.Sampling = nil
		zapCfg.EncoderConfig = zapEncoderConfig(cfg)
		zapCfg.OutputPaths = []string{"stdout"}
		zapCfg.Encoding = cfg.Log.Format
		zapCfg.Level = zap.NewAtomicLevelAt(logLevel)

		var err error
		logger, err = zapCfg.Build()
		exitOnErr("could not initialize logger", err)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log format: %q\n", cfg.Log.Format)
		os.Exit(2)
	}

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func main() {
	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()
	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0)
	}

	cfg := mustLoadCfg()
	mustInitLogger(cfg)
	log := zapr.NewLogger(logger).WithName("main")

	summary := cfg.Summary()
	log.Info("startup config",
		"version", Version,
		"addr", summary.Addr,
		"repository_mode", summary.RepositoryMode,
		"db_migrate", summary.DBMigrate,
		"max_body_bytes", summary.MaxBodyBytes,
		"webhook_secret", hide(cfg.WebhookSecret),
		"log_format", summary.LogFormat,
		"log_level", cfg.Log.Level,
		"audit_log", summary.AuditLog,
		"rate_limit", summary.RateLimit,
		"tls_enabled", summary.TLSEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	goodbye.Register(func(context.Context, os.Signal) { cancel() })

	rt, err := bootstrap.NewRuntime(ctx, cfg, zapr.NewLogger(logger))
	if err != nil {
		log.Error(err, "could not initialize runtime")
		return
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		log.V(1).Info("terminating http server", "shutdown_timeout", shutdownTimeout.String())
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "shutting down http server failed")
		}
		rt.Cleanup()
	})

	go func() {
		log.Info("gitevents listening", "addr", cfg.Addr, "tls", cfg.TLS.Enabled)

		var err error
		if cfg.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("http server terminated")
			return
		}

		log.Error(err, "http server terminated unexpectedly")
		goodbye.Exit(context.Background(), 1)
	}()

	// goodbye terminates the process once a shutdown signal was handled
	select {}
}
