package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/flatbed/pescan/pkg/api"
	"github.com/flatbed/pescan/pkg/config"
	"github.com/flatbed/pescan/pkg/observability"
	"github.com/flatbed/pescan/pkg/plugins"
)

var version = "dev"

var (
	configPath = flag.String("config", os.Getenv(config.EnvConfigFile), "Path to a YAML configuration file")
	resolveID  = flag.String("resolve", "", "Resolve one component identity, print its path and exit")
	once       = flag.Bool("once", false, "Load plugins once, print the summary and exit")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("pescan stopped")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	if cfg.Observability.LogFormat == "text" {
		return observability.NewTextLogger(cfg.Observability.LogLevel, os.Stderr)
	}
	return observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	loaderCfg, err := cfg.LoaderConfig()
	if err != nil {
		return err
	}

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	recorders := []observability.Recorder{metrics}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry metrics: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}

	host := plugins.NewRegistry(log)
	loader := plugins.NewLoader(loaderCfg, host, log,
		plugins.WithRecorder(observability.Recorders(recorders...)))

	if *resolveID != "" {
		defer loader.Close()
		return resolveOnce(ctx, loader, *resolveID)
	}

	summary, err := loader.LoadPlugins(ctx)
	if err != nil {
		loader.Close()
		return fmt.Errorf("failed to load plugins: %w", err)
	}

	if *once {
		loader.Close()
		return json.NewEncoder(os.Stdout).Encode(summary)
	}

	if cfg.Discovery.RescanSchedule != "" {
		if err := loader.ScheduleRescan(cfg.Discovery.RescanSchedule); err != nil {
			loader.Close()
			return fmt.Errorf("failed to schedule rescan: %w", err)
		}
	}

	var server *http.Server
	if cfg.Server.Addr != "" {
		health := observability.NewHealthChecker(version)
		health.AddCheck("plugins", true, func(context.Context) error {
			if !loader.Ready() {
				return errors.New("initial plugin scan has not finished")
			}
			return nil
		})

		opts := []api.Option{api.WithLogger(log), api.WithHealthChecker(health)}
		if cfg.Observability.MetricsEnabled {
			opts = append(opts, api.WithMetrics(registry, metrics))
		}
		admin := api.NewServer(host, loader.Resolver(), loader, opts...)

		server = &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      admin.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			log.Infof("Admin server listening on %s", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Admin server failed")
			}
		}()
	}

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return loader.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	return shutdown.WaitForShutdown(ctx)
}

func resolveOnce(ctx context.Context, loader *plugins.Loader, id string) error {
	path, found, err := loader.Resolver().Resolve(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("component %s not found", id)
	}
	fmt.Println(path)
	return nil
}
