package app

import (
	"os"
	"path/filepath"
)

// Paths holds all resolved filesystem paths for the .refscan/ project directory.
// All fields are pre-computed strings.
type Paths struct {
	Root       string // .refscan/
	DB         string // .refscan/refscan.db
	CatalogDir string // .refscan/catalogs/
	EnvFile    string // .refscan/.env

	LogDir    string // .refscan/log/
	DaemonLog string // .refscan/log/daemon.log

	RunDir   string // .refscan/run/
	PIDFile  string // .refscan/run/daemon.pid
	PortFile string // .refscan/run/http.port
}

// NewPaths constructs all resolved paths from a project root directory.
func NewPaths(projectRoot string) *Paths {
	root := filepath.Join(projectRoot, ".refscan")
	return &Paths{
		Root:       root,
		DB:         filepath.Join(root, "refscan.db"),
		CatalogDir: filepath.Join(root, "catalogs"),
		EnvFile:    filepath.Join(root, ".env"),

		LogDir:    filepath.Join(root, "log"),
		DaemonLog: filepath.Join(root, "log", "daemon.log"),

		RunDir:   filepath.Join(root, "run"),
		PIDFile:  filepath.Join(root, "run", "daemon.pid"),
		PortFile: filepath.Join(root, "run", "http.port"),
	}
}

// EnsureDirs creates all subdirectories under .refscan/. Idempotent.
func (p *Paths) EnsureDirs() error {
	dirs := []string{
		p.Root,
		p.CatalogDir,
		p.LogDir,
		p.RunDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// CleanEphemeral removes ephemeral runtime files (PID file and port file).
// Called on clean daemon shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
	os.Remove(p.PortFile)
}
