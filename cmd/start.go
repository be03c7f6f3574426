package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
	"github.com/gtriggiano/asn-lookup-service/pkg/envoyauthz"
	"github.com/gtriggiano/asn-lookup-service/pkg/httpapi"
	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
	"github.com/gtriggiano/asn-lookup-service/pkg/logging"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookupcache"
	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
	"github.com/gtriggiano/asn-lookup-service/pkg/source"
	"github.com/gtriggiano/asn-lookup-service/pkg/watcher"
)

var (
	cfgFile string
	envFile string
)

// init wires the start subcommand and its flags into the CLI.
func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&cfgFile, "config", "config.yaml", "Path to the configuration file")
	startCmd.Flags().StringVar(&envFile, "env-file", "", "Optional dotenv file loaded before reading the configuration")
}

var startCmd = &cobra.Command{
	Use:           "start",
	Short:         "Start the lookup server",
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
		}

		path, err := filepath.Abs(cfgFile)
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		baseLogger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer func() { _ = baseLogger.Sync() }()
		logger := baseLogger.With(zap.String("component", "cli"))

		runCtx, cancelRunCtx := context.WithCancel(context.Background())
		defer cancelRunCtx()

		metricsServer := metrics.NewServer(cfg.Metrics, baseLogger.With(zap.String("component", "metrics-server")))
		metricsServer.SetReady(false)
		inst := metricsServer.Instrumentation()

		cache, err := lookupcache.New(cfg.Cache.GetSize(), cfg.Cache.GetTTL())
		if err != nil {
			logger.Error("could not create lookup cache", zap.Error(err))
			return err
		}
		cache.SetInstrumentation(inst)

		src, err := source.New(runCtx, cfg.Source)
		if err != nil {
			logger.Error("could not create source", zap.Error(err))
			return err
		}
		defer func() { _ = src.Close() }()

		var shared *lookupcache.RedisTier
		if cfg.Cache.Redis != nil {
			shared, err = lookupcache.NewRedisTier(runCtx, cfg.Cache.Redis, baseLogger.With(zap.String("component", "redis-cache")))
			if err != nil {
				logger.Error("could not connect to redis cache", zap.Error(err))
				return err
			}
			defer func() { _ = shared.Close() }()
			shared.SetInstrumentation(inst)
		}

		manager := indexmanager.New(src, cache, baseLogger.With(zap.String("component", "index-manager")))
		manager.Subscribe(indexmanager.LogEvents(baseLogger.With(zap.String("component", "index-manager"))))
		manager.Subscribe(indexmanager.InstrumentEvents(inst))
		manager.SetFetchTimeout(cfg.Source.GetConnectionTimeout())

		_, err = manager.Reload(runCtx)
		if err != nil {
			if cfg.Source.RequiresInitialIndex() {
				logger.Error("could not build initial index", zap.Error(err))
				return err
			}
			logger.Warn("serving without an index until the source becomes readable", zap.Error(err))
		}

		var watchPaths []string
		if file, ok := src.(*source.File); ok && cfg.Source.File.NotifyEnabled() {
			watchPaths = append(watchPaths, file.Path())
		}
		sourceWatcher := watcher.New(manager, cfg.Source.GetPollInterval(), baseLogger.With(zap.String("component", "watcher")), watchPaths...)

		service := lookup.New(manager, shared)
		service.SetInstrumentation(inst)

		apiServer := httpapi.NewServer(cfg.Server, service, manager, sourceWatcher, baseLogger.With(zap.String("component", "http-server")))
		apiServer.SetInstrumentation(inst)

		var envoyServer *envoyauthz.Server
		if cfg.Envoy.Address != "" {
			envoyServer, err = envoyauthz.NewServer(cfg.Envoy, service, baseLogger.With(zap.String("component", "envoy-server")))
			if err != nil {
				logger.Error("could not create gRPC server", zap.Error(err))
				return err
			}
		}

		checks := []metrics.HealthChecker{manager, src}
		if shared != nil {
			checks = append(checks, shared)
		}
		metricsServer.AddHealthChecks(checks...)

		listeners := int32(1)
		if envoyServer != nil {
			listeners++
		}
		var readyListeners atomic.Int32
		onReady := func() {
			if readyListeners.Add(1) == listeners {
				metricsServer.SetReady(true)
			}
		}

		serversGroup, serversCtx := errgroup.WithContext(runCtx)

		serversGroup.Go(func() error {
			return metricsServer.Start(serversCtx)
		})

		serversGroup.Go(func() error {
			return sourceWatcher.Run(serversCtx)
		})

		serversGroup.Go(func() error {
			return apiServer.Start(serversCtx, onReady)
		})

		if envoyServer != nil {
			serversGroup.Go(func() error {
				return envoyServer.Start(serversCtx, onReady)
			})
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)

		done := make(chan struct{})
		defer close(done)

		go func() {
			select {
			case <-sigCh:
				logger.Info("shutdown signal received")
				metricsServer.SetReady(false)
				cancelRunCtx()
				timeout := cfg.Shutdown.ShutdownTimeout()
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				select {
				case <-done:
				case <-timer.C:
					logger.Error("shutdown timed out", zap.String("timeout", timeout.String()))
					os.Exit(1)
				}
			case <-done:
				return
			}
		}()

		if err := serversGroup.Wait(); err != nil && serversCtx.Err() == nil {
			logger.Error("server exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}
