package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/refscan/internal/adapters/ahocorasick"
	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/ports"
)

// =============================================================================
// HTTP API: match, message, catalog CRUD, health, metrics
// Expectation: same semantics as the socket transport; validation errors are
// 400 with the offending field, unknown catalogs are 404.
// =============================================================================

// mockService implements socket.Service over an in-memory catalog map.
type mockService struct {
	scan *scanner.Scanner

	mu       sync.Mutex
	catalogs map[string][]ports.Pattern
}

func newMockService() *mockService {
	return &mockService{
		scan: scanner.New(func(p []ports.Pattern) ports.PatternIndex { return ahocorasick.Build(p) }, scanner.Options{}),
		catalogs: map[string][]ports.Pattern{
			"crm": {
				{EntityID: "3", Fields: []ports.Field{{Name: "opportunity_number", Value: "OP-1234"}}},
				{EntityID: "2", Fields: []ports.Field{{Name: "contract_number", Value: "CO-3456"}}},
			},
		},
	}
}

func (m *mockService) lookup(inline []ports.Pattern, name string) ([]ports.Pattern, error) {
	if name == "" {
		return inline, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.catalogs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ports.ErrCatalogNotFound, name)
	}
	return p, nil
}

func (m *mockService) Match(p socket.MatchParams) (*socket.MatchResult, error) {
	patterns, err := m.lookup(p.Patterns, p.Catalog)
	if err != nil {
		return nil, err
	}
	records, err := m.scan.Match(patterns, p.Text, p.Context, p.FuzzyThreshold)
	if err != nil {
		return nil, err
	}
	return &socket.MatchResult{Matches: records, Count: len(records), Catalog: p.Catalog}, nil
}

func (m *mockService) Message(p socket.MessageParams) (*socket.MatchResult, error) {
	patterns, err := m.lookup(p.Patterns, p.Catalog)
	if err != nil {
		return nil, err
	}
	idx, err := m.scan.Compile(patterns)
	if err != nil {
		return nil, err
	}
	records, err := m.scan.MatchMessage(idx, scanner.Message{Subject: p.Subject, Body: p.Body}, p.FuzzyThreshold)
	if err != nil {
		return nil, err
	}
	return &socket.MatchResult{Matches: records, Count: len(records)}, nil
}

func (m *mockService) Catalogs() (*socket.CatalogsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &socket.CatalogsResult{Catalogs: []socket.CatalogInfo{}}
	for name, p := range m.catalogs {
		res.Catalogs = append(res.Catalogs, socket.CatalogInfo{Name: name, Source: "store", Patterns: len(p)})
	}
	res.Count = len(res.Catalogs)
	return res, nil
}

func (m *mockService) GetCatalog(name string) (*ports.Catalog, error) {
	p, err := m.lookup(nil, name)
	if err != nil {
		return nil, err
	}
	return &ports.Catalog{Name: name, Patterns: p}, nil
}

func (m *mockService) PutCatalog(p socket.PutCatalogParams) (*socket.CatalogInfo, error) {
	if _, err := m.scan.Compile(p.Patterns); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[p.Name] = p.Patterns
	return &socket.CatalogInfo{Name: p.Name, Source: "store", Patterns: len(p.Patterns)}, nil
}

func (m *mockService) DeleteCatalog(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.catalogs, name)
	return nil
}

func (m *mockService) Health() socket.HealthResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return socket.HealthResult{Status: "ok", Catalogs: len(m.catalogs)}
}

func setupTestServer(t *testing.T) (*Server, *mockService) {
	t.Helper()
	svc := newMockService()
	return NewServer(svc, "", nil), svc
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMatch_InlinePatterns(t *testing.T) {
	srv, _ := setupTestServer(t)

	body := `{
		"patterns": [{"_id": "2", "contract_number": "CO-3456", "_title": "Contract CO-3456"}],
		"text": "My contract number is co-3456.",
		"context": {"is_body": true}
	}`
	rec := do(t, srv, http.MethodPost, "/api/match", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res socket.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.Count)
	m := res.Matches[0]
	assert.Equal(t, "2", m.EntityID)
	assert.Equal(t, "contract_number", m.FieldName)
	assert.Equal(t, 22, m.StartIndex)
	assert.Equal(t, 29, m.EndIndex)
	assert.True(t, m.Context["is_body"])

	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestMatch_RequestIDPropagated(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestMatch_BodyTooLarge(t *testing.T) {
	srv, _ := setupTestServer(t)

	body := `{"catalog": "crm", "text": "` + strings.Repeat("a", 16<<20) + `"}`
	rec := do(t, srv, http.MethodPost, "/api/match", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, socket.CodeInvalidInput, resp.Code)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.RequestID)
	assert.NotEmpty(t, resp.RequestID)
}

func TestMatch_NamedCatalog(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/match", `{"catalog": "crm", "text": "see OP-1234 and CO-3456"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res socket.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "crm", res.Catalog)
}

func TestMatch_Errors(t *testing.T) {
	srv, _ := setupTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
		field  string
	}{
		{"text not a string", `{"patterns": [], "text": 5}`, http.StatusBadRequest, socket.CodeInvalidInput, "text"},
		{"patterns not a list", `{"patterns": "OP-1234", "text": "x"}`, http.StatusBadRequest, socket.CodeInvalidInput, "patterns"},
		{"negative threshold", `{"catalog": "crm", "text": "x", "fuzzy_threshold": -1}`, http.StatusBadRequest, socket.CodeInvalidInput, "fuzzy_threshold"},
		{"no catalog", `{"text": "x"}`, http.StatusBadRequest, socket.CodeInvalidInput, "patterns"},
		{"malformed json", `{"text": `, http.StatusBadRequest, socket.CodeInvalidInput, "params"},
		{"pattern without values", `{"patterns": [{"_id": "1"}], "text": "x"}`, http.StatusBadRequest, socket.CodeInvalidInput, "patterns[0]"},
		{"unknown catalog", `{"catalog": "nope", "text": "x"}`, http.StatusNotFound, socket.CodeNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/match", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.field, resp.Field)
			assert.NotEmpty(t, resp.Message)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestMessage_SubjectThenBody(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/message",
		`{"catalog": "crm", "subject": "Re: CO-3456", "body": "OP-1234 and CO-3456"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res socket.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 3, res.Count)
	assert.True(t, res.Matches[0].Context[scanner.TagSubject])
	assert.True(t, res.Matches[1].Context[scanner.TagBody])
	assert.True(t, res.Matches[2].Context[scanner.TagBody])
}

func TestCatalogs_CRUD(t *testing.T) {
	srv, svc := setupTestServer(t)

	// Bare list body
	rec := do(t, srv, http.MethodPut, "/api/catalogs/orders", `[{"_id": "1", "order_number": "OR-2345"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Wrapped body replaces it
	rec = do(t, srv, http.MethodPut, "/api/catalogs/orders",
		`{"patterns": [{"_id": "1", "order_number": "OR-2345", "_title": "Order OR-2345"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	svc.mu.Lock()
	require.Len(t, svc.catalogs["orders"], 1)
	assert.Len(t, svc.catalogs["orders"][0].Fields, 2)
	svc.mu.Unlock()

	rec = do(t, srv, http.MethodGet, "/api/catalogs/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// Field order survives the round trip.
	assert.Contains(t, rec.Body.String(), `{"_id":"1","order_number":"OR-2345","_title":"Order OR-2345"}`)

	rec = do(t, srv, http.MethodGet, "/api/catalogs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list socket.CatalogsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	rec = do(t, srv, http.MethodDelete, "/api/catalogs/orders", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/catalogs/orders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogs_InvalidPut(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := do(t, srv, http.MethodPut, "/api/catalogs/bad%20name", `[{"_id": "1", "code": "X"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name", decodeError(t, rec).Field)

	rec = do(t, srv, http.MethodPut, "/api/catalogs/empty", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "patterns", decodeError(t, rec).Field)

	rec = do(t, srv, http.MethodPut, "/api/catalogs/noid", `[{"code": "X"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "patterns[0]", decodeError(t, rec).Field)
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result socket.HealthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 1, result.Catalogs)
	assert.NotEmpty(t, result.Uptime)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)

	do(t, srv, http.MethodGet, "/api/health", "")
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "refscan_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, socket.CodeNotFound, decodeError(t, rec).Code)
}

func TestServer_StartStop(t *testing.T) {
	portFile := filepath.Join(t.TempDir(), "http.port")
	srv := NewServer(newMockService(), portFile, nil)
	require.NoError(t, srv.Start(0))

	data, err := os.ReadFile(portFile)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", srv.Port()), string(data))

	resp, err := http.Get(srv.URL() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Stop()
	srv.Stop()
	_, err = os.Stat(portFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDefaultPort(t *testing.T) {
	p := DefaultPort("/srv/refscan")
	assert.Equal(t, p, DefaultPort("/srv/refscan"))
	assert.GreaterOrEqual(t, p, 19000)
	assert.Less(t, p, 20000)
}
