// health.go - Health reporting for the devnet server.

package devnet

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus is the health of a component or of the whole node.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the result of one registered check.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth is the body served on /health.
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	BlockNum      uint32            `json:"block_num"`
	Pending       int               `json:"pending"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthCheck returns nil when healthy. A *DegradedError marks the component degraded
// instead of unhealthy.
type HealthCheck func() error

// DegradedError marks a component as degraded rather than unhealthy.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string {
	return e.Reason
}

// HealthChecker runs registered checks on demand.
type HealthChecker struct {
	mu        sync.Mutex
	checks    map[string]HealthCheck
	startTime time.Time
	version   string
}

// NewHealthChecker returns a checker with no checks registered.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
		version:   version,
	}
}

// Register adds or replaces the check called name.
func (hc *HealthChecker) Register(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check runs every registered check. Components are reported in name order.
func (hc *HealthChecker) Check() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := Healthy
	components := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		start := time.Now()
		err := hc.checks[name]()
		c := ComponentHealth{
			Name:      name,
			Status:    Healthy,
			Message:   "OK",
			LastCheck: time.Now(),
			Latency:   time.Since(start),
		}
		if err != nil {
			c.Message = err.Error()
			c.Status = Unhealthy
			if _, ok := err.(*DegradedError); ok {
				c.Status = Degraded
			}
		}
		if c.Status == Unhealthy {
			overall = Unhealthy
		} else if c.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, c)
	}
	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
