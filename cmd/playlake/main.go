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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/playlake/config"
	"github.com/malbeclabs/playlake/pkg/duck"
	"github.com/malbeclabs/playlake/pkg/etl"
	"github.com/malbeclabs/playlake/pkg/etl/metrics"
	"github.com/malbeclabs/playlake/pkg/logger"
	"github.com/malbeclabs/playlake/pkg/storage"
)

const pushgatewayJob = "playlake"

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	showVersionFlag := flag.Bool("version", false, "print version and exit")
	envFileFlag := flag.String("env-file", config.EnvFile(), "dotenv file with storage credentials and locations (or set PLAYLAKE_ENV_FILE env var)")
	metricsAddrFlag := flag.String("metrics-addr", "", "address to serve prometheus metrics on while the run is in progress (empty disables)")
	pushgatewayURLFlag := flag.String("pushgateway-url", "", "prometheus pushgateway to push run metrics to when the run ends (empty disables)")
	flag.Parse()

	if *showVersionFlag {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddrFlag != "" {
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Handler: mux}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("prometheus metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	lookup, err := config.LookupWithDotenv(*envFileFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(lookup)
	if err != nil {
		return err
	}

	log.Info("starting playlake",
		"version", version,
		"input", duck.RedactedStorageURI(cfg.InputURI),
		"output", duck.RedactedStorageURI(cfg.OutputURI))

	s3Config, err := duck.PrepareS3Config(ctx, log, cfg.Lookup, cfg.InputURI, cfg.OutputURI)
	if err != nil {
		return err
	}

	session, err := duck.NewSession(ctx, log, duck.SessionConfig{
		S3:          s3Config,
		Threads:     cfg.Threads,
		MemoryLimit: cfg.MemoryLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error("failed to close session", "error", err)
		}
	}()

	store, err := storage.NewFromS3Config(ctx, log, s3Config)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	pipeline, err := etl.New(etl.Config{
		Logger:    log,
		Session:   session,
		Storage:   store,
		InputURI:  cfg.InputURI,
		OutputURI: cfg.OutputURI,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	stats, runErr := pipeline.Run(ctx)
	if stats != nil && runErr == nil {
		stats.Render(os.Stdout)
	}

	if *pushgatewayURLFlag != "" {
		pushMetrics(ctx, log, *pushgatewayURLFlag, stats)
	}

	return runErr
}

func pushMetrics(ctx context.Context, log *slog.Logger, url string, stats *etl.RunStats) {
	pusher := push.New(url, pushgatewayJob).Gatherer(prometheus.DefaultGatherer)
	if stats != nil {
		pusher = pusher.Grouping("run_id", stats.RunID)
	}
	if err := pusher.PushContext(context.WithoutCancel(ctx)); err != nil {
		log.Error("failed to push metrics", "url", url, "error", err)
		return
	}
	log.Info("pushed metrics", "url", url)
}
