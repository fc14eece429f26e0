package worker

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hscHeric/kambo-hive-lib/internal/discovery"
	"github.com/hscHeric/kambo-hive-lib/internal/host"
	"github.com/hscHeric/kambo-hive-lib/pkg/protocol"
	"github.com/hscHeric/kambo-hive-lib/pkg/runner"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

func fitnessRunner(calls *atomic.Int64) runner.Runner {
	return runner.Func(func(task types.Task, workerID uuid.UUID) types.TaskResult {
		calls.Add(1)
		return types.TaskResult{
			TaskID:           task.ID,
			GraphID:          task.GraphID,
			WorkerID:         workerID,
			Fitness:          float64(task.RunNumber),
			SolutionData:     []byte("ok"),
			IterationsRun:    10,
			ProcessingTimeMs: 1,
		}
	})
}

type runningHost struct {
	scheduler *host.Scheduler
	store     *host.ResultStore
	server    *host.Server
}

func startHost(t *testing.T, address string) *runningHost {
	t.Helper()
	h := &runningHost{
		scheduler: host.NewScheduler(types.StrategyFIFO),
		store:     host.NewResultStore(),
	}
	h.server = host.NewServer(host.ServerConfig{Address: address}, h.scheduler, h.store, nil)
	require.NoError(t, h.server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.server.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func fastConfig(address string) Config {
	return Config{
		ID:             uuid.New(),
		HostAddress:    address,
		ReconnectDelay: 50 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		DialTimeout:    time.Second,
	}
}

func TestClientDrainsHostQueue(t *testing.T) {
	h := startHost(t, "127.0.0.1:0")
	h.scheduler.EnqueueGraph("g", 5, "cfg")

	var calls atomic.Int64
	c := NewClient(fastConfig(h.server.Addr().String()), fitnessRunner(&calls), nil)
	cancel, done := runClient(t, c)

	require.Eventually(t, func() bool { return h.scheduler.CompletedCount() == 5 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, h.store.TotalCount())
	assert.Equal(t, int64(5), calls.Load())

	best, ok := h.store.BestResult("g")
	require.True(t, ok)
	assert.Equal(t, 4.0, best.Fitness)
	assert.Equal(t, c.ID(), best.WorkerID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, int64(5), c.TasksCompleted())
	assert.False(t, c.IsConnected())
}

func TestClientPollsWhenIdle(t *testing.T) {
	h := startHost(t, "127.0.0.1:0")

	var calls atomic.Int64
	c := NewClient(fastConfig(h.server.Addr().String()), fitnessRunner(&calls), nil)
	runClient(t, c)

	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	h.scheduler.EnqueueGraph("late", 2, "")

	require.Eventually(t, func() bool { return h.scheduler.CompletedCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), c.Sessions())
}

func TestClientReconnectsAfterHostRestart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	var calls atomic.Int64
	c := NewClient(fastConfig(address), fitnessRunner(&calls), nil)
	runClient(t, c)

	// Nothing listens yet: the client keeps retrying.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(0), c.Sessions())

	h := startHost(t, address)
	h.scheduler.EnqueueGraph("g", 3, "")

	require.Eventually(t, func() bool { return h.scheduler.CompletedCount() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, address, c.HostAddress())
}

func TestClientUsesDiscovery(t *testing.T) {
	h := startHost(t, "127.0.0.1:0")
	h.scheduler.EnqueueGraph("g", 1, "")

	var probes atomic.Int64
	var calls atomic.Int64
	c := NewClient(fastConfig(""), fitnessRunner(&calls), nil)
	c.discover = func(ctx context.Context, cfg discovery.ProberConfig) (string, error) {
		if probes.Add(1) == 1 {
			return "", discovery.ErrNoHost
		}
		return h.server.Addr().String(), nil
	}
	runClient(t, c)

	require.Eventually(t, func() bool { return h.scheduler.CompletedCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, probes.Load(), int64(2))
}

func TestClientToleratesUnexpectedReportResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	task := types.NewTask("g", 0, "")
	reported := make(chan protocol.Request, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		conn := protocol.NewConn(raw)

		if _, err := conn.ReadRequest(); err != nil {
			return
		}
		_ = conn.WriteResponse(protocol.NewAssignTask(task))
		req, err := conn.ReadRequest()
		if err != nil {
			return
		}
		reported <- req
		_ = conn.WriteResponse(protocol.NewNoTaskAvailable())
		// Answer the next request too, then hang up.
		if _, err := conn.ReadRequest(); err == nil {
			_ = conn.WriteResponse(protocol.NewCommand("noop", ""))
		}
	}()

	var calls atomic.Int64
	c := NewClient(fastConfig(ln.Addr().String()), fitnessRunner(&calls), nil)
	runClient(t, c)

	select {
	case req := <-reported:
		assert.Equal(t, protocol.ReportResult, req.Kind)
		assert.Equal(t, task.ID, req.Result.TaskID)
		assert.Equal(t, c.ID(), req.WorkerID)
	case <-time.After(5 * time.Second):
		t.Fatal("no report received")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), c.TasksCompleted())
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{}, nil, nil)
	assert.NotEqual(t, uuid.Nil, c.ID())
	assert.Equal(t, 5*time.Second, c.cfg.ReconnectDelay)
	assert.Equal(t, 2*time.Second, c.cfg.PollInterval)
	assert.Equal(t, 10*time.Second, c.cfg.DialTimeout)
	assert.Equal(t, "", c.HostAddress())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Hour))
	assert.True(t, sleep(context.Background(), time.Millisecond))
}
