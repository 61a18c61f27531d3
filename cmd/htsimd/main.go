// Command htsimd runs a discrete-event packet-level network simulation:
// it loads a topology and an optional scenario, wires up the datapath,
// and drains the event queue while serving a Prometheus metrics endpoint
// and the admin/control HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ngvozdiev/htsim/internal/adminapi"
	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/config"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/scenario"
	"github.com/ngvozdiev/htsim/internal/simmetrics"
	"github.com/ngvozdiev/htsim/internal/topology"
	"github.com/ngvozdiev/htsim/internal/transport"
	appversion "github.com/ngvozdiev/htsim/internal/version"
)

// shutdownTimeout bounds how long the HTTP servers are given to drain on
// shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	topologyPath := flag.String("topology", "", "path to topology document (overrides config)")
	scenarioPath := flag.String("scenario", "", "path to scenario document (overrides config)")
	stopTime := flag.Duration("stop-time", 0, "truncate the run after this much virtual time (0 = run until the event queue drains)")
	realTime := flag.Bool("real-time", false, "run the event queue in real-time mode, sleeping between events")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	if *topologyPath != "" {
		cfg.Sim.TopologyPath = *topologyPath
	}
	if *scenarioPath != "" {
		cfg.Sim.ScenarioPath = *scenarioPath
	}
	if *stopTime != 0 {
		cfg.Sim.StopTime = *stopTime
	}
	if *realTime {
		cfg.Sim.RealTime = true
	}
	if err := config.Validate(cfg); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("htsimd starting",
		slog.String("version", appversion.Version),
		slog.String("adminapi_addr", cfg.AdminAPI.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("topology", cfg.Sim.TopologyPath))

	if err := runServers(cfg, logger); err != nil {
		logger.Error("htsimd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("htsimd stopped")
	return 0
}

// buildResult bundles everything runServers needs after standing up the
// simulation, so a failure midway through setup can still be reported
// with context.
type buildResult struct {
	g         *graph.Graph
	net       *datapath.Network
	eq        *event.Queue
	clk       clock.Clock
	admin     *adminapi.Server
	collector *simmetrics.Collector
	gens      []string
}

func buildSimulation(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*buildResult, error) {
	g, err := topology.LoadGraph(cfg.Sim.TopologyPath)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}

	resolution := clock.Picosecond
	if cfg.Sim.ClockResolution == "nanosecond" || cfg.Sim.RealTime {
		resolution = clock.Nanosecond
	}
	clk := clock.New(resolution)

	eq := event.NewQueue(logger)
	netw := datapath.NewNetwork(logger, clk, eq, g, cfg.Sim.QueueSizeBytes)
	admin := adminapi.NewServer(logger, g)
	admin.SetEventQueue(eq)
	collector := simmetrics.NewCollector(reg)

	for idx := range g.AllNodes() {
		m := matcher.New(logger, g.NodeName(idx))
		dev := netw.NewDeviceWithMatcher(idx, uint32(idx), m)
		dev.SetControlPlane(admin)
		dev.SetSinkFactory(transport.SinkFactoryFor(logger, dev, eq))
		dev.SetDieOnFailedMatch(cfg.Sim.DieOnFailedMatch)
		admin.RegisterDevice(g.NodeName(idx), dev)
		collector.WatchDevice(g.NodeName(idx), dev)
	}

	if err := netw.WireAll(); err != nil {
		return nil, fmt.Errorf("wire topology: %w", err)
	}
	for idx := range g.AllLinks() {
		plumbing := netw.LinkPlumbingFor(idx)
		collector.WatchQueue(plumbing.Queue.ID(), plumbing.Queue)
	}

	var genIDs []string
	if cfg.Sim.ScenarioPath != "" {
		doc, err := scenario.Load(cfg.Sim.ScenarioPath)
		if err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		lookup := func(name string) (*datapath.Device, bool) {
			idx, ok := nodeIndexByName(g, name)
			if !ok {
				return nil, false
			}
			dev := netw.Device(idx)
			return dev, dev != nil
		}
		gens, err := scenario.Apply(logger, doc, lookup, eq, clk)
		if err != nil {
			return nil, fmt.Errorf("apply scenario: %w", err)
		}
		for _, gen := range gens {
			genIDs = append(genIDs, gen.ID())
		}
	}

	if cfg.Sim.StopTime != 0 {
		eq.StopIn(clk.FromNanos(cfg.Sim.StopTime))
	}

	return &buildResult{g: g, net: netw, eq: eq, clk: clk, admin: admin, collector: collector, gens: genIDs}, nil
}

func nodeIndexByName(g *graph.Graph, name string) (graph.NodeIndex, bool) {
	for idx := range g.AllNodes() {
		if g.NodeName(idx) == name {
			return idx, true
		}
	}
	return 0, false
}

// runServers stands up the simulation, the metrics and admin HTTP
// servers, and the event queue's own run loop, supervising all of them
// with an errgroup against a signal-aware context.
func runServers(cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()

	built, err := buildSimulation(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	adminSrv := &http.Server{
		Addr:              cfg.AdminAPI.Addr,
		Handler:           built.admin.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error {
		logger.Info("admin API server listening", slog.String("addr", cfg.AdminAPI.Addr))
		return listenAndServe(gCtx, &lc, adminSrv, cfg.AdminAPI.Addr)
	})

	g.Go(func() error {
		return runSimulation(built, cfg.Sim.RealTime, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// runSimulation drains the event queue and then refreshes the metrics
// collector once, after the run has finished; counters are not refreshed
// while the run is still in progress. Unlike the HTTP servers, the run is not
// context-cancellable mid-flight: the event queue is a synchronous pull
// loop, so a signal during a run lets the current in-flight simulation
// finish (or hit its stop-time) rather than aborting it partway.
func runSimulation(built *buildResult, realTime bool, logger *slog.Logger) error {
	logger.Info("simulation run starting",
		slog.Int("num_nodes", built.g.NumNodes()),
		slog.Int("num_scenario_flows", len(built.gens)),
		slog.Bool("real_time", realTime))

	if realTime {
		event.NewRealTimeQueue(built.eq, built.clk).Run()
	} else {
		built.eq.Run()
	}

	built.collector.Refresh()
	logger.Info("simulation run complete", slog.Duration("virtual_time", built.clk.ToNanos(built.eq.Now())))
	return nil
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify READY failed", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Debug("sd_notify READY sent")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("sd_notify STOPPING failed", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Debug("sd_notify STOPPING sent")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
