package signup

import (
	"context"
	"testing"
	"time"

	"github.com/akeren/waitlist-gate/internal/backend"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, idleTTL time.Duration) (*Registry, *backend.SessionHub, *Metrics, *time.Time) {
	t.Helper()

	hub := backend.NewSessionHub()
	b := &hubBackend{hub: hub}
	metrics := NewMetrics(prometheus.NewRegistry())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(b, Config{Metrics: metrics}, idleTTL, log.NewDiscardLogger())
	r.now = func() time.Time { return now }
	return r, hub, metrics, &now
}

// hubBackend is a Backend whose only live behaviour is session subscriptions.
type hubBackend struct {
	backend.Backend
	hub *backend.SessionHub
}

func (b *hubBackend) SubscribeSessionChanges(flowID string, fn func(backend.Session)) backend.Subscription {
	return b.hub.Subscribe(flowID, fn)
}

func activeFlows(t *testing.T, m *Metrics) float64 {
	t.Helper()

	var metric dto.Metric
	require.NoError(t, m.activeFlows.Write(&metric))
	return metric.GetGauge().GetValue()
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r, hub, metrics, _ := newTestRegistry(t, time.Minute)

	f := r.Create()
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, hub.Subscribers(f.ID()))
	assert.Equal(t, float64(1), activeFlows(t, metrics))

	got, err := r.Get(f.ID())
	require.NoError(t, err)
	assert.Same(t, f, got)

	assert.True(t, r.Remove(f.ID()))
	assert.False(t, r.Remove(f.ID()))
	assert.Equal(t, 0, hub.Subscribers(f.ID()))
	assert.Equal(t, float64(0), activeFlows(t, metrics))

	_, err = r.Get(f.ID())
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestRegistry_SweepEvictsIdleFlows(t *testing.T) {
	r, hub, _, now := newTestRegistry(t, 10*time.Minute)

	idle := r.Create()
	*now = now.Add(6 * time.Minute)
	active := r.Create()

	*now = now.Add(6 * time.Minute)
	_, err := active.Follow()
	require.NoError(t, err)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, hub.Subscribers(idle.ID()))
	assert.Equal(t, 1, hub.Subscribers(active.ID()))

	_, err = r.Get(idle.ID())
	assert.ErrorIs(t, err, ErrFlowNotFound)
	_, err = r.Get(active.ID())
	assert.NoError(t, err)
}

func TestRegistry_SweepDisabledWithoutTTL(t *testing.T) {
	r, _, _, now := newTestRegistry(t, 0)
	r.Create()

	*now = now.Add(24 * time.Hour)
	assert.Equal(t, 0, r.Sweep())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CloseTearsDownEverything(t *testing.T) {
	r, hub, metrics, _ := newTestRegistry(t, time.Minute)

	a, b := r.Create(), r.Create()
	r.Close()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, hub.Subscribers(a.ID()))
	assert.Equal(t, 0, hub.Subscribers(b.ID()))
	assert.Equal(t, float64(0), activeFlows(t, metrics))

	hub.Publish(a.ID(), backend.Session{Email: "late@gmail.com"})
	_, ok := a.Session()
	assert.False(t, ok)
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
