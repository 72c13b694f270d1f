package signup

import (
	"context"
	"sync"
	"time"

	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/google/uuid"
)

// Registry owns the mounted flows of this process. Flows are not persisted.
type Registry struct {
	backend backend.Backend
	cfg     Config
	idleTTL time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*Flow
}

func NewRegistry(b backend.Backend, cfg Config, idleTTL time.Duration, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewDiscardLogger()
	}
	return &Registry{
		backend: b,
		cfg:     cfg,
		idleTTL: idleTTL,
		logger:  logger,
		now:     time.Now,
		flows:   make(map[string]*Flow),
	}
}

// Create mounts a new flow.
func (r *Registry) Create() *Flow {
	f := NewFlow(uuid.NewString(), r.backend, r.cfg, r.logger)
	f.now = r.now
	f.lastActive = r.now()

	r.mu.Lock()
	r.flows[f.id] = f
	r.mu.Unlock()

	r.cfg.Metrics.flowMounted()
	r.logger.Debug("Signup flow mounted", "flow_id", f.id)
	return f
}

func (r *Registry) Get(id string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

// Remove tears down the flow with id. It reports whether the flow existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	f, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	f.Close()
	r.cfg.Metrics.flowReleased()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep tears down flows idle for longer than the idle TTL and returns how many were evicted.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Flow
	for id, f := range r.flows {
		if f.LastActive().Before(cutoff) {
			idle = append(idle, f)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range idle {
		f.Close()
		r.cfg.Metrics.flowReleased()
	}
	if len(idle) > 0 {
		r.logger.Info("Evicted idle signup flows", "count", len(idle))
	}
	return len(idle)
}

// Run sweeps idle flows until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}

	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close tears down every flow.
func (r *Registry) Close() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*Flow)
	r.mu.Unlock()

	for _, f := range flows {
		f.Close()
		r.cfg.Metrics.flowReleased()
	}
	r.logger.Info("Signup flows closed", "count", len(flows))
}
