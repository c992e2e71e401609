package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/corey/refscan/internal/ports"
)

// Client connects to the refscan daemon over a Unix socket.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// NewClient creates a client that will connect to the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath, timeout: 5 * time.Second}
}

// WithTimeout returns a copy of c whose calls use timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	cp.timeout = timeout
	return &cp
}

// Match sends a match request.
func (c *Client) Match(p MatchParams) (*MatchResult, error) {
	var result MatchResult
	if err := c.do(MethodMatch, p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Message sends a message request.
func (c *Client) Message(p MessageParams) (*MatchResult, error) {
	var result MatchResult
	if err := c.do(MethodMessage, p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Catalogs lists the daemon's compiled catalogs.
func (c *Client) Catalogs() (*CatalogsResult, error) {
	var result CatalogsResult
	if err := c.do(MethodCatalogs, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCatalog fetches a catalog's patterns.
func (c *Client) GetCatalog(name string) (*ports.Catalog, error) {
	var result ports.Catalog
	if err := c.do(MethodGetCatalog, NameParams{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PutCatalog stores and compiles a catalog.
func (c *Client) PutCatalog(p PutCatalogParams) (*CatalogInfo, error) {
	var result CatalogInfo
	if err := c.do(MethodPutCatalog, p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteCatalog removes a stored catalog.
func (c *Client) DeleteCatalog(name string) error {
	return c.do(MethodDeleteCatalog, NameParams{Name: name}, nil)
}

// Health sends a health check request.
func (c *Client) Health() (*HealthResult, error) {
	var result HealthResult
	if err := c.do(MethodHealth, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shutdown sends a shutdown request to the daemon.
func (c *Client) Shutdown() error {
	return c.do(MethodShutdown, nil, nil)
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// do sends one request and decodes its result into out (when non-nil).
func (c *Client) do(method string, params any, out any) error {
	req := Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	resp, err := c.callWithTimeout(req, c.timeout)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func (c *Client) callWithTimeout(req Request, timeout time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// Set deadline for the whole request/response
	conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return nil, fmt.Errorf("empty response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, responseError(&resp)
	}
	return &resp, nil
}
