package worker

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/internal/discovery"
	"github.com/hscHeric/kambo-hive-lib/pkg/protocol"
	"github.com/hscHeric/kambo-hive-lib/pkg/runner"
)

// Config configures a worker client.
type Config struct {
	// ID identifies the worker for its whole lifetime, across reconnects.
	ID uuid.UUID
	// HostAddress is dialed directly when set; otherwise the host is
	// discovered on every connection attempt.
	HostAddress    string
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	DialTimeout    time.Duration
	Discovery      discovery.ProberConfig
}

// DefaultConfig returns a config with a fresh worker id.
func DefaultConfig() Config {
	return Config{
		ID:             uuid.New(),
		ReconnectDelay: 5 * time.Second,
		PollInterval:   2 * time.Second,
		DialTimeout:    10 * time.Second,
		Discovery:      discovery.DefaultProberConfig(),
	}
}

// Client is a single worker process's connection loop.
type Client struct {
	cfg      Config
	runner   runner.Runner
	logger   *zap.Logger
	discover func(context.Context, discovery.ProberConfig) (string, error)

	connected      atomic.Bool
	hostAddr       atomic.Value // string
	tasksCompleted atomic.Int64
	sessions       atomic.Int64
}

// NewClient creates a client. Zero durations in cfg take their defaults.
func NewClient(cfg Config, r runner.Runner, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.ID == uuid.Nil {
		cfg.ID = def.ID
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Discovery.Logger == nil {
		cfg.Discovery.Logger = logger.Named("discovery")
	}

	c := &Client{
		cfg:      cfg,
		runner:   r,
		logger:   logger.With(zap.String("worker_id", cfg.ID.String())),
		discover: discovery.Discover,
	}
	c.hostAddr.Store("")
	return c
}

// ID returns the worker id.
func (c *Client) ID() uuid.UUID { return c.cfg.ID }

// TasksCompleted is the number of results the host acknowledged.
func (c *Client) TasksCompleted() int64 { return c.tasksCompleted.Load() }

// Sessions is the number of successful connections so far.
func (c *Client) Sessions() int64 { return c.sessions.Load() }

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// HostAddress returns the address of the current or last host.
func (c *Client) HostAddress() string { return c.hostAddr.Load().(string) }

// Run connects, serves and reconnects until ctx is cancelled. It only
// returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("worker started")
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info("worker stopped")
			return ctx.Err()
		}
		c.logger.Warn("session ended, reconnecting",
			zap.Error(err),
			zap.Duration("delay", c.cfg.ReconnectDelay))
		if !sleep(ctx, c.cfg.ReconnectDelay) {
			c.logger.Info("worker stopped")
			return ctx.Err()
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	address, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	c.hostAddr.Store(address)
	c.connected.Store(true)
	defer c.connected.Store(false)
	c.sessions.Add(1)
	c.logger.Info("connected to host", zap.String("host", address))

	return c.session(ctx, protocol.NewConn(conn))
}

func (c *Client) resolve(ctx context.Context) (string, error) {
	if c.cfg.HostAddress != "" {
		return c.cfg.HostAddress, nil
	}
	address, err := c.discover(ctx, c.cfg.Discovery)
	if err != nil {
		return "", fmt.Errorf("discover host: %w", err)
	}
	return address, nil
}

// session alternates requests and responses until an I/O error.
func (c *Client) session(ctx context.Context, conn *protocol.Conn) error {
	for {
		if err := conn.WriteRequest(protocol.NewRequestTask(c.cfg.ID)); err != nil {
			return fmt.Errorf("request task: %w", err)
		}
		resp, err := conn.ReadResponse()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch resp.Kind {
		case protocol.AssignTask:
			if err := c.execute(conn, resp); err != nil {
				return err
			}
		case protocol.NoTaskAvailable:
			c.logger.Debug("no task available", zap.Duration("poll_interval", c.cfg.PollInterval))
			if !sleep(ctx, c.cfg.PollInterval) {
				return ctx.Err()
			}
		case protocol.Command:
			c.logger.Info("ignoring host command",
				zap.String("command_type", resp.CommandType),
				zap.String("payload", resp.Payload))
		default:
			c.logger.Warn("unexpected response to task request", zap.Stringer("kind", resp.Kind))
		}
	}
}

func (c *Client) execute(conn *protocol.Conn, resp protocol.Response) error {
	task := resp.Task
	log := c.logger.With(
		zap.String("task_id", task.ID.String()),
		zap.String("graph_id", task.GraphID),
		zap.Uint32("run_number", task.RunNumber))
	log.Info("task received")

	result := c.runner.Run(task, c.cfg.ID)
	log.Info("task finished",
		zap.Float64("fitness", result.Fitness),
		zap.Uint64("processing_time_ms", result.ProcessingTimeMs))

	if err := conn.WriteRequest(protocol.NewReportResult(c.cfg.ID, result)); err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	ack, err := conn.ReadResponse()
	if err != nil {
		return fmt.Errorf("read report ack: %w", err)
	}
	if ack.Kind != protocol.Ack {
		log.Warn("unexpected response to result report", zap.Stringer("kind", ack.Kind))
		return nil
	}
	c.tasksCompleted.Add(1)
	return nil
}

// sleep waits for d or ctx. It reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
