// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command ipsd runs the inline IPS: it reads packets from NFQUEUE (or
// replays a PCAP), runs them through the selected thread topology and
// returns one verdict per packet.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"grimm.is/ipsd/internal/api"
	"grimm.is/ipsd/internal/config"
	"grimm.is/ipsd/internal/cpu"
	"grimm.is/ipsd/internal/detect"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/metrics"
	"grimm.is/ipsd/internal/output"
	"grimm.is/ipsd/internal/pipeline"
	"grimm.is/ipsd/internal/queue"
	"grimm.is/ipsd/internal/runmode"
	"grimm.is/ipsd/internal/stream"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath    string
	mode          string
	listModes     bool
	replay        string
	dumpConfig    bool
	cpus          int
	metricsListen string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to HCL or JSON config file")
	flag.StringVar(&opts.mode, "mode", "", "Run mode (overrides config runmode)")
	flag.BoolVar(&opts.listModes, "list-modes", false, "List available run modes and exit")
	flag.StringVar(&opts.replay, "replay", "", "Replay a PCAP file instead of reading NFQUEUE")
	flag.BoolVar(&opts.dumpConfig, "dump-config", false, "Print the effective config as HCL and exit")
	flag.IntVar(&opts.cpus, "cpus", 0, "CPU count override (0 = discover)")
	flag.StringVar(&opts.metricsListen, "metrics-listen", "", "Address for /metrics and /api (overrides config)")
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		logging.Error("ipsd failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.mode != "" {
		cfg.RunMode = opts.mode
	}
	if opts.cpus > 0 {
		cfg.CPUCount = opts.cpus
	}
	if opts.metricsListen != "" {
		cfg.MetricsListen = opts.metricsListen
	}
	return cfg, nil
}

func newRegistry(replay bool) (*runmode.Registry, error) {
	var available []runmode.Transport
	if queue.NFQueueAvailable || replay {
		available = append(available, runmode.TransportNFQ)
	}
	r := runmode.NewRegistry(available...)
	if err := runmode.RegisterNFQ(r); err != nil {
		return nil, err
	}
	return r, nil
}

func run(opts options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging())
	logging.SetDefault(logger)

	if opts.dumpConfig {
		_, err := stdout.Write(config.GenerateHCL(cfg))
		return err
	}

	registry, err := newRegistry(opts.replay != "")
	if err != nil {
		return err
	}
	if opts.listModes {
		for _, m := range registry.Modes(runmode.TransportNFQ) {
			def := ""
			if m.Default {
				def = " (default)"
			}
			fmt.Fprintf(stdout, "%-10s %s%s\n", m.Name, m.Description, def)
		}
		return nil
	}

	mode, err := registry.Lookup(runmode.TransportNFQ, cfg.RunMode)
	if err != nil {
		return err
	}

	engine, err := detect.NewEngine(cfg.DetectRules(), logger.WithComponent("detect"))
	if err != nil {
		return err
	}

	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		return err
	}

	queues, numQueues := queueFactory(cfg, opts.replay, logger)
	streamCfg := cfg.StreamSettings()
	streamLogger := logger.WithComponent("stream")
	writer := output.NewLogWriter(logger.WithComponent("output"), m)

	bc := runmode.BuildContext{
		Engine:        engine,
		Queues:        queues,
		NumQueues:     numQueues,
		CPUCount:      cfg.CPUCount,
		DetectThreads: cfg.DetectThreads,
		ChannelDepth:  cfg.ChannelDepth,
		NewTracker:    func() pipeline.StreamTracker { return stream.New(streamCfg, streamLogger) },
		Output:        writer,
		Logger:        logger.WithComponent("runmode"),
		Metrics:       m,
		Probe:         &pipeline.ActiveCounter{},
	}

	logger.Info("Starting ipsd",
		"mode", mode.Name,
		"cpus", cpu.Resolve(cfg.CPUCount),
		"queues", numQueues,
		"rules", engine.Rules(),
		"pinning", cpu.PinSupported,
	)
	topo, err := mode.Build(bc)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(m.Totals, logger.WithComponent("metrics"), 5*time.Second)
	go collector.Start()
	defer collector.Stop()

	var server *api.Server
	if cfg.MetricsListen != "" {
		server = api.NewServer(api.Options{
			Registry: registry,
			Gatherer: reg,
			Rates:    collector,
			Logger:   logger.WithComponent("api"),
		})
		server.SetTopology(topo)
		if _, err := server.Start(cfg.MetricsListen); err != nil {
			shutdownTopology(topo, logger)
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("Signal received")
	case <-topo.Done():
		logger.Info("All stages finished")
	}

	err = shutdownTopology(topo, logger)
	if server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(sctx)
	}

	stats := engine.GetStats()
	logger.Info("ipsd stopped",
		"packets", writer.Packets(),
		"alerts", writer.Alerts(),
		"inspected", stats.Inspected,
		"dropped", stats.Dropped,
	)
	return err
}

func shutdownTopology(topo *runmode.Topology, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := topo.Shutdown(ctx); err != nil {
		logger.Warn("Topology shutdown incomplete", "error", err)
		return err
	}
	return nil
}

// queueFactory returns the queue opener and the number of queues. A
// replay always has a single queue.
func queueFactory(cfg *config.Config, replay string, logger *logging.Logger) (queue.Factory, int) {
	if replay != "" {
		return func(index int) (queue.Queue, error) {
			q, err := queue.OpenPcap(replay, uint16(index))
			if err != nil {
				return nil, err
			}
			return q, nil
		}, 1
	}

	nfq := cfg.NFQConfigs()
	qlog := logger.WithComponent("nfqueue")
	return func(index int) (queue.Queue, error) {
		q, err := queue.OpenNFQueue(nfq[index], qlog)
		if err != nil {
			return nil, err
		}
		return q, nil
	}, len(nfq)
}
