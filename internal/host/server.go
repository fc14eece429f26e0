package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/pkg/protocol"
)

// ServerConfig configures the worker-facing TCP server.
type ServerConfig struct {
	// Address is the TCP bind address, e.g. "0.0.0.0:9000".
	Address string
}

// Server accepts worker connections and serves one handler goroutine per
// connection.
type Server struct {
	cfg     ServerConfig
	queue   TaskQueue
	results ResultRecorder
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	active   atomic.Int64
	accepted atomic.Int64
}

// NewServer creates a server. Call Listen before Serve to surface bind
// errors early; Serve listens itself otherwise.
func NewServer(cfg ServerConfig, queue TaskQueue, results ResultRecorder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		queue:   queue,
		results: results,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the TCP address.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.logger.Info("host listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections is the number of connected workers.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// AcceptedConnections is the number of connections accepted so far.
func (s *Server) AcceptedConnections() int64 {
	return s.accepted.Load()
}

// Serve accepts connections until ctx is cancelled. On cancellation the
// listener and every open connection are closed and handlers are awaited.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.Close()
		s.closeAll()
	})
	defer stop()

	var tempDelay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay = min(2*tempDelay, time.Second)
				}
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.accepted.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	s.active.Add(-1)
	_ = conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

// handle runs the request/response loop of one connection. Any error ends
// the connection; tasks the worker still holds stay assigned.
func (s *Server) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.logger.With(zap.String("remote", remote))
	log.Info("worker connected")

	err := s.serveConn(protocol.NewConn(conn), log)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		log.Info("worker disconnected")
	case errors.Is(err, net.ErrClosed):
		log.Info("connection closed by host shutdown")
	default:
		log.Warn("connection terminated", zap.Error(err))
	}
}

func (s *Server) serveConn(conn *protocol.Conn, log *zap.Logger) error {
	for {
		req, err := conn.ReadRequest()
		if err != nil {
			return err
		}

		resp, err := s.dispatch(req, log)
		if err != nil {
			return err
		}

		if err := conn.WriteResponse(resp); err != nil {
			return fmt.Errorf("write %s: %w", resp.Kind, err)
		}
	}
}

func (s *Server) dispatch(req protocol.Request, log *zap.Logger) (protocol.Response, error) {
	worker := zap.String("worker_id", req.WorkerID.String())

	switch req.Kind {
	case protocol.RequestTask:
		task, ok := s.queue.NextTask(req.WorkerID)
		if !ok {
			log.Debug("no task available", worker)
			return protocol.NewNoTaskAvailable(), nil
		}
		log.Info("task assigned", worker,
			zap.String("task_id", task.ID.String()),
			zap.String("graph_id", task.GraphID),
			zap.Uint32("run_number", task.RunNumber))
		return protocol.NewAssignTask(task), nil

	case protocol.ReportResult:
		result := req.Result
		if err := s.queue.Complete(result.TaskID); err != nil {
			log.Error("result rejected", worker,
				zap.String("task_id", result.TaskID.String()),
				zap.Error(err))
			return protocol.Response{}, err
		}
		s.results.Record(result)
		log.Info("result recorded", worker,
			zap.String("task_id", result.TaskID.String()),
			zap.String("graph_id", result.GraphID),
			zap.Float64("fitness", result.Fitness),
			zap.Uint64("processing_time_ms", result.ProcessingTimeMs))
		return protocol.NewAck(), nil

	case protocol.Heartbeat:
		log.Debug("heartbeat", worker)
		return protocol.NewAck(), nil

	default:
		return protocol.Response{}, fmt.Errorf("unexpected request kind %s", req.Kind)
	}
}
