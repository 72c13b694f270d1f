package signup

import (
	"time"

	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
)

type Settings struct {
	Flow    Config
	IdleTTL time.Duration
	// SiteURL is where OAuth callbacks send the visitor back to.
	SiteURL string
}

type SignupServiceFactory interface {
	CreateRegistry() *Registry
	CreateController() *router.RESTController
	CreateAuthController() *router.RESTController
}

type DefaultSignupServiceFactory struct {
	backend  backend.Backend
	settings Settings
	logger   *log.Logger
	registry *Registry
}

func NewSignupServiceFactory(b backend.Backend, settings Settings, logger *log.Logger) SignupServiceFactory {
	return &DefaultSignupServiceFactory{
		backend:  b,
		settings: settings,
		logger:   logger,
	}
}

// CreateRegistry returns the one registry shared by both controllers.
func (f *DefaultSignupServiceFactory) CreateRegistry() *Registry {
	if f.registry == nil {
		f.registry = NewRegistry(f.backend, f.settings.Flow, f.settings.IdleTTL, f.logger)
	}
	return f.registry
}

func (f *DefaultSignupServiceFactory) CreateController() *router.RESTController {
	return NewSignupController(f.CreateRegistry())
}

func (f *DefaultSignupServiceFactory) CreateAuthController() *router.RESTController {
	return NewAuthController(f.CreateRegistry(), f.backend, f.settings.SiteURL)
}
