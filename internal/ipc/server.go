package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"airecorder/internal/daemon"
	"airecorder/internal/logging"
	"airecorder/internal/services"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

const serviceName = "Recorder"

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// request tags one RPC with a correlation ID for its log lines.
func (s *service) request(method string) (context.Context, *slog.Logger) {
	ctx := services.WithRequestID(s.ctx, uuid.NewString())
	logger := logging.WithContext(ctx, s.logger).With(logging.String("method", method))
	logger.Debug("ipc request")
	return ctx, logger
}

func (s *service) Toggle(_ ToggleRequest, resp *ToggleResponse) error {
	ctx, logger := s.request("Toggle")
	action, err := s.daemon.Coordinator().Toggle(ctx)
	resp.Session = s.daemon.Coordinator().Snapshot()
	if err != nil {
		return err
	}
	resp.Action = string(action)
	logger.Info("toggle via IPC",
		logging.String(logging.FieldEventType, "ipc_toggle"),
		logging.String("action", resp.Action))
	return nil
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	ctx, logger := s.request("Start")
	snap, err := s.daemon.Coordinator().Start(ctx)
	if err != nil {
		return err
	}
	resp.Session = snap
	logging.WithContext(services.WithSessionID(ctx, snap.ID), logger).Info("recording started via IPC",
		logging.String(logging.FieldEventType, "ipc_start"))
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	ctx, _ := s.request("Stop")
	coord := s.daemon.Coordinator()
	if err := coord.Stop(ctx); err != nil {
		return err
	}
	if req.Wait {
		snap, err := coord.Wait(ctx)
		if err != nil {
			return err
		}
		resp.Session = snap
		return nil
	}
	resp.Session = coord.Snapshot()
	return nil
}

func (s *service) Wait(req WaitRequest, resp *WaitResponse) error {
	ctx, _ := s.request("Wait")
	if req.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}
	snap, err := s.daemon.Coordinator().Wait(ctx)
	resp.Session = snap
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return err
	}
	resp.Done = snap.State.IsTerminal() || snap.ID == ""
	return nil
}

func (s *service) Retry(req RetryRequest, resp *RetryResponse) error {
	if req.SessionID == "" {
		return errors.New("session id is required")
	}
	ctx, logger := s.request("Retry")
	snap, err := s.daemon.Coordinator().Retry(services.WithSessionID(ctx, req.SessionID), req.SessionID)
	if err != nil {
		return err
	}
	resp.Session = snap
	logger.Info("retry via IPC",
		logging.String(logging.FieldEventType, "ipc_retry"),
		logging.String(logging.FieldSessionID, snap.ID))
	return nil
}

func (s *service) Acknowledge(_ AcknowledgeRequest, resp *AcknowledgeResponse) error {
	ctx, _ := s.request("Acknowledge")
	coord := s.daemon.Coordinator()
	if err := coord.Acknowledge(ctx); err != nil {
		return err
	}
	resp.Session = coord.Snapshot()
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	*resp = StatusResponse{
		Running:       status.Running,
		PID:           status.PID,
		Session:       status.Session,
		LockPath:      status.LockPath,
		DatabasePath:  status.DatabasePath,
		ConfigPath:    status.ConfigPath,
		Hotkey:        status.Hotkey,
		MetricsAddr:   status.MetricsAddr,
		NextRetention: status.NextRetention,
		DeviceWatch:   status.DeviceWatch,
		Dependencies:  status.Dependencies,
	}
	return nil
}
