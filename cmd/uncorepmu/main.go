// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/uncorepmu/config"
	"github.com/sustainable-computing-io/uncorepmu/internal/discovery"
	"github.com/sustainable-computing-io/uncorepmu/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/uncorepmu/internal/exporter/stdout"
	"github.com/sustainable-computing-io/uncorepmu/internal/firmware"
	"github.com/sustainable-computing-io/uncorepmu/internal/logger"
	"github.com/sustainable-computing-io/uncorepmu/internal/monitor"
	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
	"github.com/sustainable-computing-io/uncorepmu/internal/server"
	"github.com/sustainable-computing-io/uncorepmu/internal/service"
	"github.com/sustainable-computing-io/uncorepmu/internal/version"
	"k8s.io/utils/ptr"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	services, err := createServices(logger, cfg)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting uncorepmu")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("uncorepmu terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("uncorepmu version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "uncorepmu"
	app := kingpin.New(appName, "Uncore L3 cache and memory controller counters for Prometheus.")
	app.Version(version.Info().String())

	configFile := app.Flag(config.ConfigFileFlag, "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		logger.Info("Loading configuration file", "path", *configFile)
		loadedCfg, err := config.FromFile(*configFile)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		cfg = loadedCfg
		logger.Info("Completed loading of configuration file", "path", *configFile)
	}

	// command line flags override config file settings
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

// createFirmware returns the firmware caller together with the discovery
// and topology sources matching it
func createFirmware(logger *slog.Logger, cfg *config.Config) (firmware.Caller, pmu.Discoverer, pmu.Topology, error) {
	if fake := cfg.Dev.FakeFirmware; ptr.Deref(fake.Enabled, false) {
		logger.Warn("using fake firmware", "nodes", fake.Nodes, "increment", fake.Increment)
		static := discovery.NewStatic(fake.Nodes)
		caller := firmware.NewFake(
			firmware.WithFakeNodes(fake.Nodes),
			firmware.WithFakeIncrement(fake.Increment),
			firmware.WithFakeCallLog(0),
			firmware.WithFakeLogger(logger),
		)
		return caller, static, static, nil
	}

	df := firmware.NewDeviceFile(cfg.Firmware.Device, logger)
	if err := df.Init(); err != nil {
		return nil, nil, nil, err
	}
	return df,
		discovery.NewACPI(cfg.Host.SysFS, logger),
		discovery.NewTopology(cfg.Host.SysFS, logger),
		nil
}

func createServices(logger *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	logger.Debug("Creating all services")

	caller, discoverer, topology, err := createFirmware(logger, cfg)
	if err != nil {
		return nil, err
	}

	groups := make([]pmu.GroupSpec, 0, len(cfg.PMU.Groups))
	for _, g := range cfg.PMU.Groups {
		groups = append(groups, pmu.GroupSpec{
			Device: g.Device,
			Events: g.Events,
			Start:  ptr.Deref(g.Start, true),
		})
	}

	registry := pmu.NewRegistry(caller, discoverer, topology,
		pmu.WithLogger(logger),
		pmu.WithInterval(cfg.PMU.Interval),
		pmu.WithPinSampler(ptr.Deref(cfg.PMU.PinSampler, false)),
		pmu.WithKinds(cfg.PMU.Kinds.List()...),
		pmu.WithGroups(groups...),
	)

	counterMonitor := monitor.NewCounterMonitor(registry,
		monitor.WithLogger(logger),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithMaxStaleness(cfg.Monitor.Staleness),
	)

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	services := []service.Service{
		registry,
		counterMonitor,
		apiServer,
		server.NewManagementAPI(apiServer, registry, logger),
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		collectors, err := prometheus.CreateCollectors(counterMonitor, registry,
			prometheus.WithLogger(logger),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus collectors: %w", err)
		}
		services = append(services, prometheus.NewExporter(counterMonitor, apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		))
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		services = append(services, stdout.NewExporter(counterMonitor,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer, logger))
	}

	// probes report on every service created so far
	probe := server.NewHealthProbe(apiServer, append([]service.Service(nil), services...), logger)
	services = append(services,
		probe,
		service.NewSignalHandler(logger, syscall.SIGINT, syscall.SIGTERM),
	)
	return services, nil
}
