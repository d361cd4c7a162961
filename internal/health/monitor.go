package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Check inspects one component. Name and Latency are filled in by the Monitor.
type Check func(ctx context.Context) ComponentHealth

// Ping reports a component critical when ping fails.
func Ping(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusCritical, Error: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// Backlog reports the size of a queue that should normally stay empty.
// Any entry degrades the component; criticalAt or more makes it critical.
// criticalAt <= 0 disables the critical threshold.
func Backlog(count func(ctx context.Context) (int, error), criticalAt int) Check {
	return func(ctx context.Context) ComponentHealth {
		n, err := count(ctx)
		if err != nil {
			return ComponentHealth{Status: StatusDegraded, Error: err.Error()}
		}
		h := ComponentHealth{Status: StatusHealthy, Detail: fmt.Sprintf("%d entries", n)}
		switch {
		case criticalAt > 0 && n >= criticalAt:
			h.Status = StatusCritical
		case n > 0:
			h.Status = StatusDegraded
		}
		return h
	}
}

type namedCheck struct {
	name  string
	check Check
}

// Monitor runs named checks and caches the last report for ttl.
type Monitor struct {
	checks     []namedCheck
	ttl        time.Duration
	timeout    time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a Monitor. A zero ttl disables caching.
func NewMonitor(ttl time.Duration) *Monitor {
	return &Monitor{ttl: ttl, timeout: 5 * time.Second}
}

// Register adds a named check. It must be called before the monitor is used.
func (m *Monitor) Register(name string, check Check) {
	m.checks = append(m.checks, namedCheck{name: name, check: check})
}

// CheckHealth runs every check, or returns the cached report while it is fresh.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.ttl {
		return *m.lastReport
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	components := make(map[string]ComponentHealth, len(m.checks))
	for _, c := range m.checks {
		start := time.Now()
		h := c.check(ctx)
		h.Name = c.name
		h.Latency = time.Since(start).String()
		components[c.name] = h
	}

	report := HealthReport{
		SystemStatus: worst(components),
		Components:   components,
		CheckedAt:    time.Now().UTC(),
	}
	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
