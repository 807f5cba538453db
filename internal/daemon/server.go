package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/index"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// RequestHandler serves the indexer methods.
type RequestHandler interface {
	Search(ctx context.Context, params SearchParams) (search.Page, error)
	Notify(ctx context.Context, id int, kind ledger.Kind) error
	Rebuild(ctx context.Context) error
	Check(ctx context.Context, repair bool) (CheckResult, error)
	Status(ctx context.Context) (app.Status, error)
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	handler    RequestHandler
	logger     *slog.Logger
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
// A zero timeout uses 30s per connection.
func NewServer(socketPath string, timeout time.Duration, logger *slog.Logger) (*Server, error) {
	if socketPath == "" {
		return nil, errors.New("socket path cannot be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("server_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("server_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	s.logger.Info("server_stopped", slog.String("socket", s.socketPath))

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// handleConnection processes a single request on conn.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Warn("server_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	start := time.Now()
	resp := s.handleRequest(ctx, req)
	if err := encoder.Encode(resp); err != nil {
		s.logger.Warn("server_write_failed",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
	}
	s.logger.Debug("request_handled",
		slog.String("id", req.ID),
		slog.String("method", req.Method),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("duration", time.Since(start)))
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return s.handleStatus(ctx, req)
	case MethodSearch:
		return s.handleSearch(ctx, req)
	case MethodNotify:
		return s.handleNotify(ctx, req)
	case MethodRebuild:
		return s.handleRebuild(ctx, req)
	case MethodCheck:
		return s.handleCheck(ctx, req)
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-decodes the generic params of req into dst.
func decodeParams(req Request, dst any) error {
	if req.Params == nil {
		return nil
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

func (s *Server) noHandler(req Request) Response {
	return NewErrorResponse(req.ID, ErrCodeInternalError, "no request handler configured")
}

func (s *Server) handleSearch(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return s.noHandler(req)
	}

	var params SearchParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	page, err := s.handler.Search(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, page)
}

func (s *Server) handleNotify(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return s.noHandler(req)
	}

	var params NotifyParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	kind, err := params.Validate()
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := s.handler.Notify(ctx, params.AppointmentID, kind); err != nil {
		return NewErrorResponse(req.ID, ErrCodeNotifyFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, NotifyResult{Recorded: true})
}

func (s *Server) handleRebuild(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return s.noHandler(req)
	}

	if err := s.handler.Rebuild(ctx); err != nil {
		if errors.Is(err, index.ErrDisabled) {
			return NewErrorResponse(req.ID, ErrCodeIndexerDisabled, err.Error())
		}
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, RebuildResult{Queued: true})
}

func (s *Server) handleCheck(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return s.noHandler(req)
	}

	var params CheckParams
	if err := decodeParams(req, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	result, err := s.handler.Check(ctx, params.Repair)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeCheckFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleStatus(ctx context.Context, req Request) Response {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
	}

	if s.handler != nil {
		st, err := s.handler.Status(ctx)
		if err != nil {
			s.logger.Warn("status_incomplete", slog.String("error", err.Error()))
		}
		status.Indexer = st
	}
	return NewSuccessResponse(req.ID, status)
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
