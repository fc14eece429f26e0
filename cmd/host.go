package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hscHeric/kambo-hive-lib/api/rest"
	"github.com/hscHeric/kambo-hive-lib/internal/config"
	"github.com/hscHeric/kambo-hive-lib/internal/discovery"
	"github.com/hscHeric/kambo-hive-lib/internal/host"
	"github.com/hscHeric/kambo-hive-lib/internal/report"
	"github.com/hscHeric/kambo-hive-lib/internal/snapshot"
	"github.com/hscHeric/kambo-hive-lib/pkg/logger"
)

var hostGraphs []string

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage the task host",
	Long:  `The host owns the task queue, hands tasks to workers and collects their results.`,
}

var hostStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the task host",
	Long: `Start the task host and serve workers until interrupted.

The host:
  - enqueues the configured graphs
  - answers discovery probes on UDP
  - saves collected results periodically
  - writes a final report on shutdown`,
	Example: `  # Two graphs, 30 runs each, shared GA parameters
  kambohive host start --graph petersen:30 --graph k5:30 --ga-config ga.json

  # LIFO distribution with the status API on :8081
  kambohive host start --strategy lifo --api --config host.yaml`,
	RunE: runHostStart,
}

// hostFlagPaths maps host start flags to config dot paths.
var hostFlagPaths = map[string]string{
	"address":            "host.address",
	"strategy":           "host.strategy",
	"assignment-timeout": "host.assignment_timeout",
	"report-file":        "host.report_file",
	"ga-config":          "host.ga_config_file",
	"discovery":          "discovery.enabled",
	"snapshot-file":      "snapshot.file",
	"snapshot-interval":  "snapshot.interval",
	"api":                "api.enabled",
	"api-address":        "api.address",
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.AddCommand(hostStartCmd)

	f := hostStartCmd.Flags()
	f.String("address", "0.0.0.0:9000", "TCP address workers connect to")
	f.String("strategy", "fifo", "distribution strategy: fifo, lifo or random")
	f.Duration("assignment-timeout", 0, "requeue tasks held longer than this (0 disables)")
	f.String("report-file", "final_report.json", "where the final report is written")
	f.String("ga-config", "", "GA configuration file shared by every graph")
	f.Bool("discovery", true, "answer UDP discovery probes")
	f.String("snapshot-file", "results.json", "periodic results snapshot file")
	f.Duration("snapshot-interval", time.Minute, "interval between result snapshots")
	f.Bool("api", false, "serve the HTTP status API")
	f.String("api-address", ":8081", "status API address")
	f.StringArrayVar(&hostGraphs, "graph", nil, "graph to enqueue as id:runs (repeatable)")
}

func runHostStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(flagOverrides(cmd, hostFlagPaths))
	if err != nil {
		return err
	}
	for _, raw := range hostGraphs {
		g, err := config.ParseGraphFlag(raw)
		if err != nil {
			return err
		}
		cfg.Host.Graphs = append(cfg.Host.Graphs, g)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	printBanner(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newHostRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "  Host listening on %s, %d tasks queued. Press Ctrl+C to stop.\n\n",
			rt.server.Addr(), rt.scheduler.TotalCount())
	}
	return rt.Run(ctx)
}

// hostRuntime holds every component of a running host.
type hostRuntime struct {
	cfg    *config.Config
	logger *zap.Logger

	scheduler *host.Scheduler
	results   *host.ResultStore
	server    *host.Server
	responder *discovery.Responder
	reclaimer *host.Reclaimer
	saver     *snapshot.Saver
	api       *rest.Server
	closers   []io.Closer
}

func newHostRuntime(cfg *config.Config, log *zap.Logger) (*hostRuntime, error) {
	rt := &hostRuntime{
		cfg:    cfg,
		logger: log,
		scheduler: host.NewScheduler(cfg.Host.Strategy,
			host.WithLogger(log.Named("scheduler"))),
		results: host.NewResultStore(),
	}

	if err := enqueueGraphs(rt.scheduler, cfg.Host); err != nil {
		return nil, err
	}

	rt.server = host.NewServer(host.ServerConfig{Address: cfg.Host.Address},
		rt.scheduler, rt.results, log.Named("server"))

	if cfg.Host.AssignmentTimeout > 0 {
		r, err := host.NewReclaimer(rt.scheduler, cfg.Host.AssignmentTimeout, 0, log.Named("reclaimer"))
		if err != nil {
			return nil, err
		}
		rt.reclaimer = r
	}

	if cfg.Snapshot.Enabled {
		sinks, closers, err := buildSinks(cfg.Snapshot, log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, closers...)
		saver, err := snapshot.NewSaver(rt.results, cfg.Snapshot.Interval, sinks, log.Named("snapshot"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.saver = saver
	}

	if cfg.API.Enabled {
		apiCfg := rest.DefaultConfig()
		apiCfg.Address = cfg.API.Address
		rt.api = rest.NewServer(rt.scheduler, rt.results, rt.server, apiCfg, log.Named("api"))
	}

	return rt, nil
}

// enqueueGraphs queues every configured graph.
func enqueueGraphs(s *host.Scheduler, cfg config.HostConfig) error {
	shared, err := cfg.LoadGAConfig()
	if err != nil {
		return err
	}
	for _, g := range cfg.Graphs {
		gaConfig, err := g.ResolveConfig(shared)
		if err != nil {
			return err
		}
		s.EnqueueGraph(g.ID, g.Runs, gaConfig)
	}
	return nil
}

// buildSinks creates one snapshot sink per configured destination.
func buildSinks(cfg config.SnapshotConfig, log *zap.Logger) ([]snapshot.Sink, []io.Closer, error) {
	var (
		sinks   []snapshot.Sink
		closers []io.Closer
	)
	if cfg.File != "" {
		sinks = append(sinks, snapshot.NewFileSink(cfg.File))
	}
	if cfg.Redis.Address != "" {
		r := snapshot.NewRedisSink(snapshot.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		sinks = append(sinks, r)
		closers = append(closers, r)
	}
	if cfg.Database.DSN != "" {
		g, err := snapshot.NewGormSink(cfg.Database.Driver, cfg.Database.DSN, log.Named("gorm"))
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, fmt.Errorf("open result database: %w", err)
		}
		sinks = append(sinks, g)
		closers = append(closers, g)
	}
	return sinks, closers, nil
}

// Start binds the TCP and UDP sockets so bind failures surface before any
// loop runs.
func (rt *hostRuntime) Start() error {
	if err := rt.server.Listen(); err != nil {
		return err
	}
	if !rt.cfg.Discovery.Enabled {
		return nil
	}

	r, err := discovery.NewResponder(rt.cfg.Discovery.ResponderAddress(),
		rt.server.Addr().String(), rt.logger.Named("discovery"))
	if err != nil {
		return err
	}
	if err := r.Listen(); err != nil {
		return err
	}
	rt.responder = r
	return nil
}

// Run serves until ctx is cancelled or a component fails, then writes the
// final report.
func (rt *hostRuntime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.server.Serve(gctx) })
	if rt.responder != nil {
		g.Go(func() error { return rt.responder.Serve(gctx) })
	}
	if rt.reclaimer != nil {
		g.Go(func() error { return rt.reclaimer.Run(gctx) })
	}
	if rt.saver != nil {
		g.Go(func() error { return rt.saver.Run(gctx) })
	}
	if rt.api != nil {
		g.Go(func() error { return rt.api.Run(gctx) })
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		rt.logger.Error("host stopped with error", zap.Error(runErr))
	} else {
		runErr = nil
	}

	summary := rt.scheduler.Summary()
	rt.logger.Info("host stopped",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("pending", summary.Pending),
		zap.Int("assigned", summary.Assigned),
		zap.Int("results", rt.results.TotalCount()))

	if err := rt.writeReport(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (rt *hostRuntime) writeReport() error {
	if rt.cfg.Host.ReportFile == "" {
		return nil
	}
	r := report.Generate(rt.scheduler.Summary(), rt.results.AllResults(), time.Now(),
		report.Options{IncludeResults: true})
	if err := report.Save(rt.cfg.Host.ReportFile, r); err != nil {
		return fmt.Errorf("write final report: %w", err)
	}
	rt.logger.Info("final report written", zap.String("file", rt.cfg.Host.ReportFile))
	return nil
}

// Close releases snapshot sink connections.
func (rt *hostRuntime) Close() {
	for _, c := range rt.closers {
		if err := c.Close(); err != nil {
			rt.logger.Warn("close sink", zap.Error(err))
		}
	}
	rt.closers = nil
}
