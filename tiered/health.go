// Package tiered implements the resilience layer around the primary
// store: a health-tracked circuit, ranked durable fallback tiers, and a
// durable queue for writes accepted during outages.
package tiered

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clinicflow/intake/internal/metrics"
)

// Pinger is the liveness probe target: a trivial query against the
// primary store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthState is an immutable snapshot, swapped atomically so readers
// never see a torn {healthy, checkedAt} pair.
type HealthState struct {
	Healthy   bool      `json:"isHealthy"`
	CheckedAt time.Time `json:"lastCheckedAt"`
}

// HealthMonitor tracks primary-store liveness with a time-boxed cached
// probe. The probe runs at most once per interval (deduplicated across
// concurrent callers); ForceCheck bypasses the interval. Only the probe
// flips global health — an individual slow or failed store call never
// does, to avoid flapping.
type HealthMonitor struct {
	pinger       Pinger
	interval     time.Duration
	probeTimeout time.Duration
	state        atomic.Pointer[HealthState]
	flight       singleflight.Group
	log          *slog.Logger

	mu        sync.Mutex
	onRecover []func(context.Context)
}

// NewHealthMonitor creates a monitor that considers the store healthy
// until the first probe says otherwise.
func NewHealthMonitor(pinger Pinger, interval, probeTimeout time.Duration, log *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	m := &HealthMonitor{
		pinger:       pinger,
		interval:     interval,
		probeTimeout: probeTimeout,
		log:          log,
	}
	m.state.Store(&HealthState{Healthy: true})
	return m
}

// OnRecover registers a hook fired (in its own goroutine) when the probe
// observes an unhealthy-to-healthy transition. Used for queue replay.
func (m *HealthMonitor) OnRecover(hook func(context.Context)) {
	m.mu.Lock()
	m.onRecover = append(m.onRecover, hook)
	m.mu.Unlock()
}

// Healthy returns the cached health signal, probing first if the cached
// snapshot is older than the check interval.
func (m *HealthMonitor) Healthy(ctx context.Context) bool {
	st := m.state.Load()
	if !st.CheckedAt.IsZero() && time.Since(st.CheckedAt) < m.interval {
		return st.Healthy
	}
	return m.probe(ctx)
}

// ForceCheck probes immediately, ignoring the cached snapshot.
func (m *HealthMonitor) ForceCheck(ctx context.Context) bool {
	return m.probe(ctx)
}

// State returns the current snapshot for the health endpoint.
func (m *HealthMonitor) State() HealthState {
	return *m.state.Load()
}

func (m *HealthMonitor) probe(ctx context.Context) bool {
	healthy, _, _ := m.flight.Do("probe", func() (any, error) {
		// The probe outlives the triggering request.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.probeTimeout)
		defer cancel()

		err := m.pinger.Ping(probeCtx)
		prev := m.state.Load()
		next := &HealthState{Healthy: err == nil, CheckedAt: time.Now()}
		m.state.Store(next)

		if prev.Healthy != next.Healthy {
			if next.Healthy {
				metrics.HealthTransitions.WithLabelValues("healthy").Inc()
				m.log.Info("primary store recovered")
				m.fireRecoveryHooks()
			} else {
				metrics.HealthTransitions.WithLabelValues("unhealthy").Inc()
				m.log.Warn("primary store unhealthy", "error", err)
			}
		}
		return next.Healthy, nil
	})
	return healthy.(bool)
}

func (m *HealthMonitor) fireRecoveryHooks() {
	m.mu.Lock()
	hooks := make([]func(context.Context), len(m.onRecover))
	copy(hooks, m.onRecover)
	m.mu.Unlock()

	for _, hook := range hooks {
		go hook(context.Background())
	}
}
