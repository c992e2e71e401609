package app

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Environment variables read by LoadConfig. They match the env tags on Config.
const (
	EnvDB            = "REFSCAN_DB"
	EnvHTTPPort      = "REFSCAN_HTTP_PORT"
	EnvNoHTTP        = "REFSCAN_NO_HTTP"
	EnvCatalogs      = "REFSCAN_CATALOGS" // colon-separated files or dirs
	EnvWatch         = "REFSCAN_WATCH"
	EnvMaxFuzzy      = "REFSCAN_MAX_FUZZY"
	EnvMaxFuzzyRunes = "REFSCAN_MAX_FUZZY_RUNES"
	EnvCacheSize     = "REFSCAN_CACHE_SIZE"
	EnvLogLevel      = "REFSCAN_LOG_LEVEL"
	EnvLogPretty     = "REFSCAN_LOG_PRETTY"
)

// Config holds initialization parameters for the App. Fields tagged env are
// read from the process environment and the project's .env files.
type Config struct {
	ProjectRoot string   `json:"project_root"`
	DBPath      string   `json:"db_path" env:"REFSCAN_DB"`                              // path to bbolt file (default: .refscan/refscan.db)
	HTTPPort    int      `json:"http_port" env:"REFSCAN_HTTP_PORT"`                     // preferred HTTP port (0: computed from project root)
	NoHTTP      bool     `json:"no_http" env:"REFSCAN_NO_HTTP"`                         // serve the socket only
	Catalogs    []string `json:"catalog_paths" env:"REFSCAN_CATALOGS" envSeparator:":"` // catalog files or directories (default: .refscan/catalogs)
	Watch       bool     `json:"watch" env:"REFSCAN_WATCH" envDefault:"true"`           // hot-reload catalog files

	// MaxFuzzyThreshold 0 disables fuzzy matching.
	MaxFuzzyThreshold int `json:"max_fuzzy_threshold" env:"REFSCAN_MAX_FUZZY" envDefault:"4"`
	MaxFuzzyRunes     int `json:"max_fuzzy_runes" env:"REFSCAN_MAX_FUZZY_RUNES" envDefault:"65536"`
	CacheSize         int `json:"cache_size" env:"REFSCAN_CACHE_SIZE" envDefault:"64"` // negative disables the compiled-catalog cache

	LogLevel  string `json:"log_level" env:"REFSCAN_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `json:"log_pretty" env:"REFSCAN_LOG_PRETTY"`

	Logger *zap.Logger `json:"-"` // nil discards
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig(projectRoot string) Config {
	cfg := Config{ProjectRoot: projectRoot}
	// Only the envDefault literals are read from an empty environment.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.fillPaths()
	return cfg
}

// LoadConfig layers the defaults, the project's .env files and the process
// environment, in increasing precedence. Flags are applied by the caller.
func LoadConfig(projectRoot string) (Config, error) {
	cfg := Config{ProjectRoot: projectRoot}
	p := NewPaths(projectRoot)

	environ := make(map[string]string)
	for _, f := range []string{filepath.Join(projectRoot, ".env"), p.EnvFile} {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return cfg, fmt.Errorf("read %s: %w", f, err)
		}
		maps.Copy(environ, vals)
	}
	maps.Copy(environ, env.ToMap(os.Environ()))

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Catalogs = trimList(cfg.Catalogs)
	cfg.fillPaths()
	return cfg, cfg.Validate()
}

// fillPaths derives unset paths from the project root.
func (c *Config) fillPaths() {
	p := NewPaths(c.ProjectRoot)
	if c.DBPath == "" {
		c.DBPath = p.DB
	}
	if c.Catalogs == nil {
		c.Catalogs = []string{p.CatalogDir}
	}
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return fmt.Errorf("project root required")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTPPort)
	}
	if c.MaxFuzzyThreshold < 0 {
		return fmt.Errorf("max fuzzy threshold must not be negative, got %d", c.MaxFuzzyThreshold)
	}
	if c.MaxFuzzyRunes < 0 {
		return fmt.Errorf("max fuzzy runes must not be negative, got %d", c.MaxFuzzyRunes)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func trimList(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
