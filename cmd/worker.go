package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/internal/config"
	"github.com/hscHeric/kambo-hive-lib/internal/worker"
	"github.com/hscHeric/kambo-hive-lib/pkg/logger"
	"github.com/hscHeric/kambo-hive-lib/pkg/runner"
)

var workerCommandArgs []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
	Long:  `A worker pulls tasks from the host, runs the GA program on each and reports the result.`,
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker",
	Long: `Start a worker and keep it connected to the host until interrupted.

Each task is written as JSON to the GA program's stdin. The program must
print {"fitness":..,"solution_data":"..","iterations_run":..} on stdout.`,
	Example: `  # Discover the host on the local network
  kambohive worker start --command ./ga-solver

  # Connect to a known host, passing arguments to the program
  kambohive worker start --host 10.0.0.5:9000 --command python3 --arg solver.py --arg --fast`,
	RunE: runWorkerStart,
}

var workerFlagPaths = map[string]string{
	"host":            "worker.host_address",
	"id":              "worker.id",
	"reconnect-delay": "worker.reconnect_delay",
	"poll-interval":   "worker.poll_interval",
	"dial-timeout":    "worker.dial_timeout",
	"command":         "worker.command",
	"command-timeout": "worker.command_timeout",
	"discovery-port":  "discovery.port",
	"broadcast":       "discovery.broadcast_address",
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerStartCmd)

	f := workerStartCmd.Flags()
	f.String("host", "", "host address (discovered over UDP when empty)")
	f.String("id", "", "worker id (random UUID when empty)")
	f.Duration("reconnect-delay", 5*time.Second, "wait between connection attempts")
	f.Duration("poll-interval", 2*time.Second, "wait after the host has no task")
	f.Duration("dial-timeout", 10*time.Second, "TCP connect timeout")
	f.String("command", "", "GA program run for every task")
	f.StringArrayVar(&workerCommandArgs, "arg", nil, "argument for the GA program (repeatable)")
	f.Duration("command-timeout", 0, "kill the GA program after this long (0 disables)")
	f.Int("discovery-port", 2901, "UDP discovery port")
	f.String("broadcast", "255.255.255.255", "discovery broadcast address")
}

func runWorkerStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(flagOverrides(cmd, workerFlagPaths))
	if err != nil {
		return err
	}
	if len(workerCommandArgs) > 0 {
		cfg.Worker.CommandArgs = workerCommandArgs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := newWorkerClient(cfg, log)
	if err != nil {
		return err
	}

	printBanner(cmd)
	if !quiet {
		target := cfg.Worker.HostAddress
		if target == "" {
			target = "discovery"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  Worker %s connecting via %s. Press Ctrl+C to stop.\n\n", client.ID(), target)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = client.Run(ctx)
	log.Info("worker summary",
		zap.String("worker_id", client.ID().String()),
		zap.Int64("tasks_completed", client.TasksCompleted()),
		zap.Int64("sessions", client.Sessions()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newWorkerClient builds a worker client running the configured command.
func newWorkerClient(cfg *config.Config, log *zap.Logger) (*worker.Client, error) {
	if cfg.Worker.Command == "" {
		return nil, errors.New("worker.command is required (set --command)")
	}

	wcfg := worker.Config{
		HostAddress:    cfg.Worker.HostAddress,
		ReconnectDelay: cfg.Worker.ReconnectDelay,
		PollInterval:   cfg.Worker.PollInterval,
		DialTimeout:    cfg.Worker.DialTimeout,
		Discovery:      cfg.Discovery.ProberConfig(),
	}
	if cfg.Worker.ID != "" {
		id, err := uuid.Parse(cfg.Worker.ID)
		if err != nil {
			return nil, fmt.Errorf("worker id: %w", err)
		}
		wcfg.ID = id
	}

	r := runner.NewCommand(cfg.Worker.Command, cfg.Worker.CommandArgs, log.Named("runner"))
	r.Timeout = cfg.Worker.CommandTimeout

	return worker.NewClient(wcfg, r, log.Named("worker")), nil
}
