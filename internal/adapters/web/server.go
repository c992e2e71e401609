// Package web serves the refscan JSON API over HTTP.
// Binds to localhost only. No network exposure, no auth.
package web

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/metrics"
	"github.com/corey/refscan/internal/ports"
)

// bodyLimit caps request bodies. Inline catalogs can be large.
const bodyLimit = "16M"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id"`
}

// Server serves the JSON API and the Prometheus endpoint.
type Server struct {
	svc      socket.Service
	log      *zap.Logger
	echo     *echo.Echo
	listener net.Listener
	httpSrv  *http.Server
	port     int
	started  time.Time
	stopOnce sync.Once

	portFilePath string // .refscan/run/http.port
}

// NewServer creates an HTTP server dispatching to svc.
// The portFilePath is where the bound port is written for discovery.
func NewServer(svc socket.Service, portFilePath string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		svc:          svc,
		log:          log.Named("web"),
		portFilePath: portFilePath,
		started:      time.Now(),
	}
	s.echo = s.routes()
	return s
}

// DefaultPort computes a project-specific port: 19000 + (hash(abs_path) % 1000).
func DefaultPort(projectRoot string) int {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	h := sha256.Sum256([]byte(abs))
	// Use first 4 bytes as uint32
	n := uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])
	return 19000 + int(n%1000)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}),
		s.accessLog(),
		middleware.BodyLimit(bodyLimit),
	)

	api := e.Group("/api")
	api.POST("/match", s.handleMatch)
	api.POST("/message", s.handleMessage)
	api.GET("/catalogs", s.handleCatalogs)
	api.GET("/catalogs/:name", s.handleGetCatalog)
	api.PUT("/catalogs/:name", s.handlePutCatalog)
	api.DELETE("/catalogs/:name", s.handleDeleteCatalog)
	api.GET("/health", s.handleHealth)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Start begins listening on the preferred port. Writes the port to the port file.
func (s *Server) Start(preferredPort int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", preferredPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.started = time.Now()

	s.httpSrv = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Write port file for discovery
	if s.portFilePath != "" {
		if err := os.WriteFile(s.portFilePath, []byte(fmt.Sprintf("%d", s.port)), 0644); err != nil {
			s.log.Warn("write port file", zap.String("path", s.portFilePath), zap.Error(err))
		}
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http serve", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.httpSrv.Shutdown(ctx)
		}
		if s.portFilePath != "" {
			os.Remove(s.portFilePath)
		}
	})
}

// Port returns the bound port number.
func (s *Server) Port() int {
	return s.port
}

// URL returns the API base URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

func (s *Server) handleMatch(c echo.Context) error {
	var p socket.MatchParams
	if err := decodeBody(c, &p); err != nil {
		return err
	}
	res, err := s.svc.Match(p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleMessage(c echo.Context) error {
	var p socket.MessageParams
	if err := decodeBody(c, &p); err != nil {
		return err
	}
	res, err := s.svc.Message(p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCatalogs(c echo.Context) error {
	res, err := s.svc.Catalogs()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetCatalog(c echo.Context) error {
	name, err := catalogName(c)
	if err != nil {
		return err
	}
	res, err := s.svc.GetCatalog(name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handlePutCatalog accepts either {"patterns": [...]} or a bare list.
func (s *Server) handlePutCatalog(c echo.Context) error {
	name, err := catalogName(c)
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}
	patterns, err := decodePatterns(body)
	if err != nil {
		return err
	}
	p := socket.PutCatalogParams{Name: name, Patterns: patterns}
	if err := socket.Validate(p); err != nil {
		return err
	}
	res, err := s.svc.PutCatalog(p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeleteCatalog(c echo.Context) error {
	name, err := catalogName(c)
	if err != nil {
		return err
	}
	if err := s.svc.DeleteCatalog(name); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.svc.Health()
	h.Uptime = time.Since(s.started).Round(time.Second).String()
	return c.JSON(http.StatusOK, h)
}

// handleError maps service errors onto status codes, as the socket maps
// them onto Response.Code.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{
		Message:   err.Error(),
		Code:      errorCode(err),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}

	var he *echo.HTTPError
	var ve *scanner.ValidationError
	switch {
	case errors.As(err, &he):
		status = he.Code
		resp.Message = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		}
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Message = ve.Reason
		resp.Field = ve.Field
	case errors.Is(err, ports.ErrCatalogNotFound):
		status = http.StatusNotFound
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("request_id", resp.RequestID), zap.Error(err))
		resp.Message = "internal server error"
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, resp)
}

func (s *Server) accessLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Render now so the logged status is the one sent.
				c.Error(err)
			}
			took := time.Since(start)

			code := "ok"
			if err != nil {
				code = errorCode(err)
			}
			route := c.Path()
			if route != "/metrics" {
				metrics.RecordRequest("http", route, code, took.Seconds())
			}
			s.log.Debug("request",
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.String("method", c.Request().Method),
				zap.String("route", route),
				zap.Int("status", c.Response().Status),
				zap.Duration("took", took))
			return nil
		}
	}
}

// readBody reads the whole body. Oversized bodies fail with echo's 413
// from the BodyLimit middleware.
func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeBody reads the request body and decodes it the way the socket
// decodes params, so both transports report the same validation errors.
func decodeBody(c echo.Context, dst any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return socket.DecodeParams(body, dst)
}

func decodePatterns(body []byte) ([]ports.Pattern, error) {
	var wrapped struct {
		Patterns []ports.Pattern `json:"patterns"`
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := socket.DecodeParams([]byte(`{"patterns":`+string(trimmed)+`}`), &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Patterns, nil
	}
	if err := socket.DecodeParams(body, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Patterns, nil
}

func catalogName(c echo.Context) (string, error) {
	name := c.Param("name")
	if err := socket.Validate(socket.NameParams{Name: name}); err != nil {
		return "", err
	}
	return name, nil
}

// errorCode extends socket.ErrorCode with echo's own routing errors.
func errorCode(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Code == http.StatusNotFound:
			return socket.CodeNotFound
		case he.Code < http.StatusInternalServerError:
			return socket.CodeInvalidInput
		}
		return socket.CodeInternal
	}
	return socket.ErrorCode(err)
}
