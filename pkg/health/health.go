package health

import (
	"context"
	"fmt"
	"time"
)

// DefaultCheckTimeout bounds each check unless NewHealthChecker is given
// another value.
const DefaultCheckTimeout = 2 * time.Second

// NewHealthChecker creates a checker. timeout bounds every single check;
// zero selects DefaultCheckTimeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &HealthChecker{
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
		timeout:     timeout,
		startTime:   time.Now(),
	}
}

// RegisterReadinessCheck registers a check that must pass before the
// service takes traffic.
func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readyChecks[name] = check
}

// RegisterLivenessCheck registers a check whose failure means the process
// should be restarted.
func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.liveChecks[name] = check
}

// CheckReadiness performs readiness checks
func (hc *HealthChecker) CheckReadiness(ctx context.Context) Response {
	return hc.performChecks(ctx, hc.snapshot(hc.readyChecks))
}

// CheckLiveness performs liveness checks
func (hc *HealthChecker) CheckLiveness(ctx context.Context) Response {
	return hc.performChecks(ctx, hc.snapshot(hc.liveChecks))
}

func (hc *HealthChecker) snapshot(m map[string]CheckFunc) map[string]CheckFunc {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]CheckFunc, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (hc *HealthChecker) performChecks(ctx context.Context, checks map[string]CheckFunc) Response {
	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    time.Since(hc.startTime),
	}

	for name, checkFunc := range checks {
		start := time.Now()
		check := hc.run(ctx, name, checkFunc)
		check.Duration = time.Since(start)
		check.LastChecked = start
		if check.Name == "" {
			check.Name = name
		}
		response.Checks[name] = check

		// worst status wins
		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}
	return response
}

// run executes one check under the per-check timeout. A check that panics
// or overruns is reported unhealthy.
func (hc *HealthChecker) run(ctx context.Context, name string, fn CheckFunc) Check {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	done := make(chan Check, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Check{Name: name, Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case c := <-done:
		return c
	case <-ctx.Done():
		return Check{Name: name, Status: StatusUnhealthy, Message: "check timed out: " + ctx.Err().Error()}
	}
}
