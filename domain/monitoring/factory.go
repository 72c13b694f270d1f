package monitoring

import (
	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/internal/log"
	"gorm.io/gorm"
)

type MonitoringControllerFactory interface {
	CreateController() *router.RESTController
}

type DefaultMonitoringControllerFactory struct {
	db          *gorm.DB
	logger      *log.Logger
	cache       Pinger
	backend     Pinger
	backendMode string
}

func NewMonitoringControllerFactory(db *gorm.DB, logger *log.Logger, cache, backend Pinger, backendMode string) MonitoringControllerFactory {
	return &DefaultMonitoringControllerFactory{
		db:          db,
		logger:      logger,
		cache:       cache,
		backend:     backend,
		backendMode: backendMode,
	}
}

func (f *DefaultMonitoringControllerFactory) CreateController() *router.RESTController {
	return NewMonitoringController(f.db, f.logger, f.cache, f.backend, f.backendMode)
}
