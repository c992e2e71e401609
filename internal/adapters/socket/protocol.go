// Package socket implements a JSON-over-Unix-socket protocol for the refscan daemon.
// The protocol uses newline-delimited JSON: each message is one JSON object + \n.
package socket

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/ports"
)

// SocketPath returns the Unix socket path for a given project root.
// Format: /tmp/refscan-{first12hex}.sock
func SocketPath(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/refscan-%x.sock", h[:6])
}

// Method names for the protocol.
const (
	MethodMatch         = "match"
	MethodMessage       = "message"
	MethodCatalogs      = "catalogs"
	MethodGetCatalog    = "get_catalog"
	MethodPutCatalog    = "put_catalog"
	MethodDeleteCatalog = "delete_catalog"
	MethodHealth        = "health"
	MethodShutdown      = "shutdown"
)

// Error codes carried in Response.Code.
const (
	CodeInvalidInput = "invalid_input"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal"
)

// Request is the wire format for client-to-server messages. Params stay raw
// until the handler knows their type, so pattern field order survives.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire format for server-to-client messages.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Field  string          `json:"field,omitempty"` // offending input for invalid_input
}

// Service is what the daemon exposes. Both the socket and the HTTP server
// dispatch to it.
type Service interface {
	Match(p MatchParams) (*MatchResult, error)
	Message(p MessageParams) (*MatchResult, error)
	Catalogs() (*CatalogsResult, error)
	GetCatalog(name string) (*ports.Catalog, error)
	PutCatalog(p PutCatalogParams) (*CatalogInfo, error)
	DeleteCatalog(name string) error
	Health() HealthResult
}

// MatchParams is the params for a match request. Exactly one of Patterns
// (an inline catalog) or Catalog (a named one) must be given.
type MatchParams struct {
	Patterns       []ports.Pattern `json:"patterns" validate:"required_without=Catalog"`
	Catalog        string          `json:"catalog,omitempty" validate:"omitempty,catalogname,excluded_with=Patterns"`
	Text           string          `json:"text"`
	Context        map[string]bool `json:"context,omitempty"`
	FuzzyThreshold int             `json:"fuzzy_threshold" validate:"gte=0"`
}

// MessageParams is the params for a message request.
type MessageParams struct {
	Patterns       []ports.Pattern `json:"patterns" validate:"required_without=Catalog"`
	Catalog        string          `json:"catalog,omitempty" validate:"omitempty,catalogname,excluded_with=Patterns"`
	Subject        string          `json:"subject"`
	Body           string          `json:"body"`
	FuzzyThreshold int             `json:"fuzzy_threshold" validate:"gte=0"`
}

// NameParams names a catalog for get_catalog and delete_catalog.
type NameParams struct {
	Name string `json:"name" validate:"required,catalogname"`
}

// PutCatalogParams is the params for a put_catalog request.
type PutCatalogParams struct {
	Name     string          `json:"name" validate:"required,catalogname"`
	Patterns []ports.Pattern `json:"patterns" validate:"required"`
}

// MatchResult is the result of match and message requests.
type MatchResult struct {
	Matches []ports.MatchRecord `json:"matches"`
	Count   int                 `json:"count"`
	Catalog string              `json:"catalog,omitempty"`
	Elapsed string              `json:"elapsed"`
}

// CatalogInfo describes one loaded catalog.
type CatalogInfo struct {
	Name      string `json:"name"`
	Source    string `json:"source"` // "store" or the catalog file path
	Patterns  int    `json:"patterns"`
	Values    int    `json:"values"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// CatalogsResult is the result of a catalogs request.
type CatalogsResult struct {
	Catalogs []CatalogInfo `json:"catalogs"`
	Count    int           `json:"count"`
}

// HealthResult is the result of a health request.
type HealthResult struct {
	Status       string `json:"status"`
	Catalogs     int    `json:"catalogs"`
	Values       int    `json:"values"`
	Scans        uint64 `json:"scans"`
	Matches      uint64 `json:"matches"`
	FuzzyMatches uint64 `json:"fuzzy_matches"`
	CacheHits    uint64 `json:"cache_hits"`
	CacheMisses  uint64 `json:"cache_misses"`
	Uptime       string `json:"uptime"`
}

var catalogNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("catalogname", func(fl validator.FieldLevel) bool {
		return catalogNameRe.MatchString(fl.Field().String())
	})
	return v
}

// ValidCatalogName reports whether name can be used for a catalog, stored or
// loaded from a file.
func ValidCatalogName(name string) bool {
	return catalogNameRe.MatchString(name)
}

// Validate checks params against their struct tags. Failures are returned
// as *scanner.ValidationError naming the first offending field.
func Validate(params any) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	return &scanner.ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is not given", strings.ToLower(fe.Param()))
	case "excluded_with":
		return fmt.Sprintf("cannot be combined with %s", strings.ToLower(fe.Param()))
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "catalogname":
		return "must be 1-64 letters, digits, '.', '_' or '-', starting with a letter or digit"
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

// DecodeParams unmarshals raw into dst and validates it. JSON type errors
// become *scanner.ValidationError naming the offending field, so a
// non-string text or a non-list patterns value is reported like any other
// invalid input.
func DecodeParams(raw []byte, dst any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		var syntaxErr *json.SyntaxError
		switch {
		case errors.As(err, &typeErr):
			field := typeErr.Field
			if field == "" {
				field = "params"
			}
			return &scanner.ValidationError{Field: field, Reason: fmt.Sprintf("must be %s, got %s", jsonKind(typeErr.Type), typeErr.Value)}
		case errors.As(err, &syntaxErr):
			return &scanner.ValidationError{Field: "params", Reason: "malformed JSON"}
		default:
			// Only pattern decoding reports its own errors.
			return &scanner.ValidationError{Field: "patterns", Reason: err.Error()}
		}
	}
	return Validate(dst)
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "a list"
	case reflect.Map, reflect.Struct:
		return "an object"
	}
	return t.String()
}

// ErrorCode classifies err for the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, scanner.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ports.ErrCatalogNotFound):
		return CodeNotFound
	}
	return CodeInternal
}

// errorResponse renders err with its code.
func errorResponse(id string, err error) Response {
	resp := Response{ID: id, Error: err.Error(), Code: ErrorCode(err)}
	var ve *scanner.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Error = ve.Reason
	}
	return resp
}

// responseError turns a wire error back into a typed error.
func responseError(resp *Response) error {
	switch resp.Code {
	case CodeInvalidInput:
		return &scanner.ValidationError{Field: resp.Field, Reason: resp.Error}
	case CodeNotFound:
		return &notFoundError{msg: resp.Error}
	}
	return fmt.Errorf("server error: %s", resp.Error)
}

// notFoundError keeps the server's message while matching
// ports.ErrCatalogNotFound under errors.Is.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }
func (e *notFoundError) Unwrap() error { return ports.ErrCatalogNotFound }
