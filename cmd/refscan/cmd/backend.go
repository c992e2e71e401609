package cmd

import (
	"fmt"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/app"
	"github.com/corey/refscan/internal/ports"
)

// backend is what the client commands need. The daemon's socket client and
// an in-process App both provide it.
type backend interface {
	Match(p socket.MatchParams) (*socket.MatchResult, error)
	Message(p socket.MessageParams) (*socket.MatchResult, error)
	Catalogs() (*socket.CatalogsResult, error)
	GetCatalog(name string) (*ports.Catalog, error)
	PutCatalog(p socket.PutCatalogParams) (*socket.CatalogInfo, error)
	DeleteCatalog(name string) error
}

// openBackend talks to the running daemon when there is one; otherwise it
// opens the project in-process. The returned func releases the backend.
func openBackend() (backend, func(), error) {
	client := socket.NewClient(socket.SocketPath(cfg.ProjectRoot))
	if client.Ping() {
		return client, func() {}, nil
	}

	local := cfg
	local.Watch = false
	local.NoHTTP = true
	a, err := app.New(local)
	if err != nil {
		if isStoreLocked(err) {
			return nil, nil, fmt.Errorf("%s", diagnoseStoreLock(cfg, false))
		}
		return nil, nil, fmt.Errorf("init: %w", err)
	}
	return inProcess{a}, func() { a.Stop() }, nil
}

// inProcess validates params the way the socket server does before
// handing them to the App.
type inProcess struct {
	*app.App
}

func (p inProcess) Match(params socket.MatchParams) (*socket.MatchResult, error) {
	if err := socket.Validate(params); err != nil {
		return nil, err
	}
	return p.App.Match(params)
}

func (p inProcess) Message(params socket.MessageParams) (*socket.MatchResult, error) {
	if err := socket.Validate(params); err != nil {
		return nil, err
	}
	return p.App.Message(params)
}

func (p inProcess) GetCatalog(name string) (*ports.Catalog, error) {
	if err := socket.Validate(socket.NameParams{Name: name}); err != nil {
		return nil, err
	}
	return p.App.GetCatalog(name)
}

func (p inProcess) PutCatalog(params socket.PutCatalogParams) (*socket.CatalogInfo, error) {
	if err := socket.Validate(params); err != nil {
		return nil, err
	}
	return p.App.PutCatalog(params)
}

func (p inProcess) DeleteCatalog(name string) error {
	if err := socket.Validate(socket.NameParams{Name: name}); err != nil {
		return err
	}
	return p.App.DeleteCatalog(name)
}
