package host

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hscHeric/kambo-hive-lib/pkg/protocol"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

type testHost struct {
	scheduler *Scheduler
	store     *ResultStore
	server    *Server
	cancel    context.CancelFunc
	done      chan error
}

func startTestHost(t *testing.T, strategy types.DistributionStrategy) *testHost {
	t.Helper()

	h := &testHost{
		scheduler: NewScheduler(strategy),
		store:     NewResultStore(),
		done:      make(chan error, 1),
	}
	h.server = NewServer(ServerConfig{Address: "127.0.0.1:0"}, h.scheduler, h.store, nil)
	require.NoError(t, h.server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.server.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return h
}

func (h *testHost) dial(t *testing.T) (*protocol.Conn, net.Conn) {
	t.Helper()
	c, err := net.DialTimeout("tcp", h.server.Addr().String(), time.Second)
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = c.Close() })
	return protocol.NewConn(c), c
}

// exchange requests one task and reports a result for it. It returns the
// assigned task, or false when the host had none.
func exchange(t *testing.T, conn *protocol.Conn, worker uuid.UUID, fitness float64) (types.Task, bool) {
	t.Helper()
	require.NoError(t, conn.WriteRequest(protocol.NewRequestTask(worker)))
	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	if resp.Kind == protocol.NoTaskAvailable {
		return types.Task{}, false
	}
	require.Equal(t, protocol.AssignTask, resp.Kind)
	task := resp.Task

	res := types.TaskResult{
		TaskID:           task.ID,
		GraphID:          task.GraphID,
		WorkerID:         worker,
		Fitness:          fitness,
		SolutionData:     []byte("1,0,1"),
		IterationsRun:    50,
		ProcessingTimeMs: 30,
	}
	require.NoError(t, conn.WriteRequest(protocol.NewReportResult(worker, res)))
	resp, err = conn.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, protocol.Ack, resp.Kind)
	return task, true
}

func TestServerAssignReportAck(t *testing.T) {
	h := startTestHost(t, types.StrategyFIFO)
	h.scheduler.EnqueueGraph("g1", 3, "cfg")
	conn, _ := h.dial(t)
	worker := uuid.New()

	require.NoError(t, conn.WriteRequest(protocol.NewRequestTask(worker)))
	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, protocol.AssignTask, resp.Kind)
	assert.Equal(t, "g1", resp.Task.GraphID)
	assert.Equal(t, uint32(0), resp.Task.RunNumber)
	assert.Equal(t, "cfg", resp.Task.Config)
	assert.Equal(t, types.TaskStatusAssigned, h.scheduler.StatusSnapshot()[resp.Task.ID])

	res := types.TaskResult{
		TaskID:           resp.Task.ID,
		GraphID:          resp.Task.GraphID,
		WorkerID:         worker,
		Fitness:          12.5,
		SolutionData:     []byte("1,0,1"),
		IterationsRun:    50,
		ProcessingTimeMs: 30,
	}
	require.NoError(t, conn.WriteRequest(protocol.NewReportResult(worker, res)))
	resp, err = conn.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack, resp.Kind)
	assert.Equal(t, res, h.store.GraphResults("g1")[0])

	runs := []uint32{0}
	for {
		task, ok := exchange(t, conn, worker, 1)
		if !ok {
			break
		}
		runs = append(runs, task.RunNumber)
	}

	assert.Equal(t, []uint32{0, 1, 2}, runs)
	assert.Equal(t, 3, h.scheduler.CompletedCount())
	assert.Equal(t, 3, h.store.TotalCount())
	assert.Len(t, h.store.GraphResults("g1"), 3)
}

func TestServerHeartbeat(t *testing.T) {
	h := startTestHost(t, types.StrategyFIFO)
	h.scheduler.EnqueueGraph("g", 2, "")
	conn, _ := h.dial(t)

	require.NoError(t, conn.WriteRequest(protocol.NewHeartbeat(uuid.New())))
	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack, resp.Kind)
	assert.Equal(t, 2, h.scheduler.PendingCount())
}

func TestServerDropsConnectionOnDuplicateReport(t *testing.T) {
	h := startTestHost(t, types.StrategyFIFO)
	h.scheduler.EnqueueGraph("g", 1, "")
	conn, _ := h.dial(t)
	worker := uuid.New()

	require.NoError(t, conn.WriteRequest(protocol.NewRequestTask(worker)))
	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	res := types.TaskResult{TaskID: resp.Task.ID, GraphID: "g", WorkerID: worker}

	require.NoError(t, conn.WriteRequest(protocol.NewReportResult(worker, res)))
	_, err = conn.ReadResponse()
	require.NoError(t, err)

	require.NoError(t, conn.WriteRequest(protocol.NewReportResult(worker, res)))
	_, err = conn.ReadResponse()
	assert.Error(t, err)

	assert.Equal(t, 1, h.store.TotalCount())
	assert.Equal(t, 1, h.scheduler.CompletedCount())
}

func TestServerDropsConnectionOnGarbage(t *testing.T) {
	h := startTestHost(t, types.StrategyFIFO)
	h.scheduler.EnqueueGraph("g", 1, "")
	_, raw := h.dial(t)

	_, err := raw.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = raw.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, h.scheduler.PendingCount())
}

func TestServerDisconnectLeavesTaskAssigned(t *testing.T) {
	h := startTestHost(t, types.StrategyFIFO)
	h.scheduler.EnqueueGraph("g", 3, "")
	conn, raw := h.dial(t)

	require.NoError(t, conn.WriteRequest(protocol.NewRequestTask(uuid.New())))
	resp, err := conn.ReadResponse()
	require.NoError(t, err)
	require.Equal(t, protocol.AssignTask, resp.Kind)
	lost := resp.Task
	require.NoError(t, raw.Close())

	assert.Eventually(t, func() bool { return h.server.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.TaskStatusAssigned, h.scheduler.StatusSnapshot()[lost.ID])
	assert.Equal(t, 2, h.scheduler.PendingCount())

	// Requeued tasks go first under FIFO.
	require.True(t, h.scheduler.Fail(lost.ID))
	assert.Equal(t, types.TaskStatusFailed, h.scheduler.StatusSnapshot()[lost.ID])

	conn2, _ := h.dial(t)
	worker := uuid.New()
	var got []types.Task
	for {
		task, ok := exchange(t, conn2, worker, 2)
		if !ok {
			break
		}
		got = append(got, task)
	}

	require.Len(t, got, 3)
	assert.Equal(t, lost.ID, got[0].ID)
	runs := []uint32{got[0].RunNumber, got[1].RunNumber, got[2].RunNumber}
	assert.Equal(t, []uint32{0, 1, 2}, runs)
	assert.Equal(t, 3, h.scheduler.CompletedCount())
	assert.Equal(t, 3, h.store.TotalCount())
}

func TestServerConcurrentWorkersDrainQueue(t *testing.T) {
	h := startTestHost(t, types.StrategyRandom)
	const total = 60
	h.scheduler.EnqueueGraph("g", total, "")

	errs := make(chan error, 6)
	for w := 0; w < 6; w++ {
		conn, _ := h.dial(t)
		go func() {
			worker := uuid.New()
			for {
				if err := conn.WriteRequest(protocol.NewRequestTask(worker)); err != nil {
					errs <- err
					return
				}
				resp, err := conn.ReadResponse()
				if err != nil {
					errs <- err
					return
				}
				if resp.Kind == protocol.NoTaskAvailable {
					errs <- nil
					return
				}
				res := types.TaskResult{TaskID: resp.Task.ID, GraphID: resp.Task.GraphID, WorkerID: worker, Fitness: 1}
				if err := conn.WriteRequest(protocol.NewReportResult(worker, res)); err != nil {
					errs <- err
					return
				}
				if _, err := conn.ReadResponse(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for w := 0; w < 6; w++ {
		require.NoError(t, <-errs)
	}

	assert.Equal(t, total, h.scheduler.CompletedCount())
	assert.Equal(t, total, h.store.TotalCount())
	assert.GreaterOrEqual(t, h.server.AcceptedConnections(), int64(6))
}

func TestServerShutdownClosesConnections(t *testing.T) {
	h := startTestHost(t, types.StrategyFIFO)
	_, raw := h.dial(t)

	assert.Eventually(t, func() bool { return h.server.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	buf := make([]byte, 1)
	_, err := raw.Read(buf)
	assert.Error(t, err)
}

func TestServerBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(ServerConfig{Address: ln.Addr().String()}, NewScheduler(types.StrategyFIFO), NewResultStore(), nil)
	assert.Error(t, s.Listen())
	assert.Nil(t, s.Addr())
}
