package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corey/refscan/internal/metrics"
)

// Server is the daemon that listens on a Unix socket and serves match requests.
type Server struct {
	svc      Service
	log      *zap.Logger
	listener net.Listener
	sockPath string
	started  time.Time

	done         chan struct{}
	shutdownCh   chan struct{} // closed when a remote shutdown request is received
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a daemon server dispatching to svc. A nil log discards.
func NewServer(svc Service, sockPath string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		svc:        svc,
		log:        log.Named("socket"),
		sockPath:   sockPath,
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins listening on the Unix socket. It handles stale sockets by
// attempting a connection first. If the connection fails, the stale socket
// is removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.sockPath); err == nil {
		conn, err := net.DialTimeout("unix", s.sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running at %s", s.sockPath)
		}
		s.log.Info("removing stale socket", zap.String("path", s.sockPath))
		os.Remove(s.sockPath)
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server, closing the listener and removing the socket file.
// Idempotent. Safe to call after a remote shutdown followed by a signal.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.sockPath)
	})
	return nil
}

// ShutdownCh returns a channel that is closed when a remote shutdown request
// is received. The daemon's main goroutine should select on this alongside
// OS signals so the process actually exits after a remote stop.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.sockPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024) // catalogs can be large

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, Response{Error: "invalid request JSON", Code: CodeInvalidInput})
			continue
		}

		start := time.Now()
		resp := s.handleRequest(req)
		code := resp.Code
		if code == "" {
			code = "ok"
		}
		metrics.RecordRequest("socket", req.Method, code, time.Since(start).Seconds())
		s.log.Debug("request",
			zap.String("id", req.ID),
			zap.String("method", req.Method),
			zap.String("code", code),
			zap.Duration("took", time.Since(start)))

		s.writeResponse(conn, resp)

		if req.Method == MethodShutdown {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("connection closed", zap.Error(err))
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case MethodMatch:
		var p MatchParams
		if err := DecodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, err)
		}
		res, err := s.svc.Match(p)
		return reply(req.ID, res, err)

	case MethodMessage:
		var p MessageParams
		if err := DecodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, err)
		}
		res, err := s.svc.Message(p)
		return reply(req.ID, res, err)

	case MethodCatalogs:
		res, err := s.svc.Catalogs()
		return reply(req.ID, res, err)

	case MethodGetCatalog:
		var p NameParams
		if err := DecodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, err)
		}
		res, err := s.svc.GetCatalog(p.Name)
		return reply(req.ID, res, err)

	case MethodPutCatalog:
		var p PutCatalogParams
		if err := DecodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, err)
		}
		res, err := s.svc.PutCatalog(p)
		return reply(req.ID, res, err)

	case MethodDeleteCatalog:
		var p NameParams
		if err := DecodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, err)
		}
		return reply(req.ID, struct{}{}, s.svc.DeleteCatalog(p.Name))

	case MethodHealth:
		h := s.svc.Health()
		h.Uptime = time.Since(s.started).Round(time.Second).String()
		return reply(req.ID, h, nil)

	case MethodShutdown:
		return reply(req.ID, struct{}{}, nil)

	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method), Code: CodeInvalidInput}
	}
}

func reply(id string, result any, err error) Response {
	if err != nil {
		return errorResponse(id, err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{ID: id, Error: fmt.Sprintf("marshal result: %v", err), Code: CodeInternal}
	}
	return Response{ID: id, Result: data}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}
