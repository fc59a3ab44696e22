// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlabs/voxgate/internal/admission"
	"github.com/voxlabs/voxgate/internal/config"
	"github.com/voxlabs/voxgate/internal/gpu"
	"github.com/voxlabs/voxgate/internal/health"
	"github.com/voxlabs/voxgate/internal/log"
	"github.com/voxlabs/voxgate/internal/server"
	"github.com/voxlabs/voxgate/internal/stt"
	"github.com/voxlabs/voxgate/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const statsFilename = "gpu_stats.json"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	log.Configure(log.Config{
		Level:   "info",
		Service: "voxgate",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Determine config path:
	// - Explicit via --config
	// - Otherwise auto-load ${VOXGATE_DATA}/config.yaml if it exists
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("VOXGATE_DATA", config.Defaults().DataDir))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Int("max_connections", cfg.MaxConnections).
		Msg("starting voxgate")

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "voxgate",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.TelemetryExporter,
		Endpoint:       cfg.TelemetryEndpoint,
		SamplingRate:   cfg.TelemetrySampling,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize telemetry")
	}
	defer func() {
		if err := telemetryProvider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	// The heuristic fallback estimates load from the live allocation count.
	// The allocator does not exist yet at this point, so the closure resolves
	// it lazily.
	var allocator *gpu.Allocator
	heuristic := &gpu.HeuristicSource{
		ActiveAllocations: func() int {
			if allocator == nil {
				return 0
			}
			return allocator.Count()
		},
		PerSessionBytes: mb(cfg.PerSessionMemoryMB),
		TotalBytes:      mb(cfg.FallbackTotalMemoryMB),
	}

	var source gpu.StatsSource = heuristic
	smi := &gpu.SMISource{}
	if smi.Probe(ctx) {
		source = smi
	}

	monitor := gpu.NewMonitor(source, heuristic, gpu.MonitorConfig{
		Period:     cfg.SamplingPeriod,
		Thresholds: thresholdsFrom(cfg),
		StatsPath:  filepath.Join(cfg.DataDir, statsFilename),
	})
	allocator = gpu.NewAllocator(monitor)
	gate := admission.NewGate(cfg.MaxConnections)

	healthMgr := health.NewManager(version)
	if cfg.EnableHealthChecks {
		healthMgr.RegisterChecker(health.NewMonitorChecker(
			monitor.Running,
			monitor.LastSample,
			3*cfg.SamplingPeriod,
		))
		healthMgr.RegisterChecker(health.NewGateChecker(
			func() int64 { return gate.Counters().CurrentActive },
			int64(cfg.MaxConnections),
		))
		healthMgr.RegisterChecker(health.NewFileChecker("stats_file", filepath.Join(cfg.DataDir, statsFilename)))
	}

	monitor.Start()
	defer monitor.Stop()

	srv := server.New(server.Options{
		Config:    cfg,
		Gate:      gate,
		Allocator: allocator,
		Monitor:   monitor,
		Factory:   stt.LoopbackFactory(),
		Health:    healthMgr,
	})

	// Hot reload: watch the config file and honor SIGHUP. Threshold changes
	// take effect on the next sampling cycle; listen address and connection
	// ceiling changes need a restart.
	holder := config.NewHolder(cfg, config.NewLoader(effectiveConfigPath, version), effectiveConfigPath)
	reloaded := make(chan config.Config, 1)
	holder.RegisterListener(reloaded)
	if effectiveConfigPath != "" {
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().Err(err).Str("event", "config.watch_failed").Msg("config file watching disabled")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info().Str("event", "config.sighup").Msg("SIGHUP received, reloading configuration")
				reloadCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
				if err := holder.Reload(reloadCtx); err != nil {
					logger.Error().Err(err).Str("event", "config.reload_failed").Msg("configuration reload failed, keeping previous config")
				}
				cancel()
			case next := <-reloaded:
				monitor.SetThresholds(thresholdsFrom(next))
				log.Configure(log.Config{
					Level:   next.LogLevel,
					Service: next.LogService,
					Version: version,
				})
				logger.Info().
					Str("event", "config.applied").
					Dur("sampling_period", next.SamplingPeriod).
					Msg("reloaded configuration applied")
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}

func thresholdsFrom(cfg config.Config) gpu.Thresholds {
	return gpu.Thresholds{
		MemoryPercent:      cfg.MemoryThresholdPercent,
		UtilizationPercent: cfg.UtilizationThresholdPercent,
		TemperatureCelsius: cfg.TemperatureThresholdCelsius,
		PerSessionBytes:    mb(cfg.PerSessionMemoryMB),
		ReserveBytes:       mb(cfg.ReserveMemoryMB),
	}
}

func mb(n int) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n) << 20
}
