package waitlist

import (
	"github.com/akeren/waitlist-gate/config/router"
	"github.com/akeren/waitlist-gate/internal/log"
	"gorm.io/gorm"
)

type WaitlistServiceFactory interface {
	CreateService() WaitlistService
	CreateController() *router.RESTController
}

type DefaultWaitlistServiceFactory struct {
	db      *gorm.DB
	logger  *log.Logger
	service WaitlistService
}

func NewWaitlistServiceFactory(db *gorm.DB, logger *log.Logger) WaitlistServiceFactory {
	return &DefaultWaitlistServiceFactory{
		db:     db,
		logger: logger,
	}
}

// CreateService returns one shared service so the backend and the controller see the same repository.
func (f *DefaultWaitlistServiceFactory) CreateService() WaitlistService {
	if f.service == nil {
		f.service = NewWaitlistService(f.logger, NewWaitlistRepository(f.db))
	}
	return f.service
}

func (f *DefaultWaitlistServiceFactory) CreateController() *router.RESTController {
	return NewWaitlistController(f.CreateService())
}
