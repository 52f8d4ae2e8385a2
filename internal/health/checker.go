// Package health reports the state of the backing services the API depends on.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthState is the outcome of one check or of the whole report.
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateUnhealthy HealthState = "unhealthy"
	HealthStateWarning   HealthState = "warning"
	HealthStateUnknown   HealthState = "unknown"
)

// HealthConfig tunes how often and how long checks run.
type HealthConfig struct {
	CheckInterval time.Duration
	Timeout       time.Duration
	CacheTTL      time.Duration
	Version       string
}

// HealthStatus is the aggregated report.
type HealthStatus struct {
	Overall     HealthState                `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Version     string                     `json:"version"`
	Uptime      string                     `json:"uptime"`
	Components  map[string]ComponentHealth `json:"components"`
	LastChecked time.Time                  `json:"last_checked"`
	CheckCount  int64                      `json:"check_count"`
}

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthState            `json:"status"`
	Message     string                 `json:"message"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// HealthCheck probes one dependency.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// HealthChecker runs registered checks in parallel and caches the report.
type HealthChecker struct {
	config   HealthConfig
	logger   *logrus.Logger
	checks   map[string]HealthCheck
	status   *HealthStatus
	started  time.Time
	mutex    sync.RWMutex
	runMutex sync.Mutex
	stopChan chan struct{}
	ticker   *time.Ticker
}

// NewHealthChecker creates a checker with no checks registered.
func NewHealthChecker(config HealthConfig, logger *logrus.Logger) *HealthChecker {
	if config.CheckInterval == 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Second
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}

	return &HealthChecker{
		config: config,
		logger: logger,
		checks: make(map[string]HealthCheck),
		status: &HealthStatus{
			Overall:    HealthStateUnknown,
			Timestamp:  time.Now(),
			Version:    config.Version,
			Components: make(map[string]ComponentHealth),
		},
		started:  time.Now(),
		stopChan: make(chan struct{}),
	}
}

// RegisterCheck adds or replaces a check by name.
func (h *HealthChecker) RegisterCheck(check HealthCheck) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[check.Name()] = check
}

// Start runs the checks now and then on every interval until Stop.
func (h *HealthChecker) Start() {
	h.ticker = time.NewTicker(h.config.CheckInterval)
	h.runHealthChecks(context.Background())

	go func() {
		for {
			select {
			case <-h.ticker.C:
				h.runHealthChecks(context.Background())
			case <-h.stopChan:
				return
			}
		}
	}()

	h.logger.Info("Health checker started")
}

// Stop ends periodic checking.
func (h *HealthChecker) Stop() {
	if h.ticker != nil {
		h.ticker.Stop()
	}
	close(h.stopChan)
	h.logger.Info("Health checker stopped")
}

// Check returns the cached report, refreshing it when older than CacheTTL.
func (h *HealthChecker) Check(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	fresh := h.status.CheckCount > 0 && time.Since(h.status.LastChecked) < h.config.CacheTTL
	h.mutex.RUnlock()

	if !fresh {
		h.runHealthChecks(ctx)
	}
	return h.GetStatus()
}

func (h *HealthChecker) runHealthChecks(parent context.Context) {
	h.runMutex.Lock()
	defer h.runMutex.Unlock()

	ctx, cancel := context.WithTimeout(parent, h.config.Timeout)
	defer cancel()

	h.mutex.RLock()
	checks := make([]HealthCheck, 0, len(h.checks))
	for _, check := range h.checks {
		checks = append(checks, check)
	}
	h.mutex.RUnlock()

	startTime := time.Now()
	results := make(chan ComponentHealth, len(checks))
	var wg sync.WaitGroup

	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			results <- c.Check(ctx)
		}(check)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	overallHealthy := true
	hasWarnings := false
	components := make(map[string]ComponentHealth, len(checks))
	for result := range results {
		components[result.Name] = result
		switch result.Status {
		case HealthStateUnhealthy:
			overallHealthy = false
		case HealthStateWarning:
			hasWarnings = true
		}
	}

	overallStatus := HealthStateHealthy
	if !overallHealthy {
		overallStatus = HealthStateUnhealthy
	} else if hasWarnings {
		overallStatus = HealthStateWarning
	}

	h.mutex.Lock()
	h.status = &HealthStatus{
		Overall:     overallStatus,
		Timestamp:   startTime,
		Version:     h.config.Version,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Components:  components,
		LastChecked: time.Now(),
		CheckCount:  h.status.CheckCount + 1,
	}
	h.mutex.Unlock()

	if overallStatus != HealthStateHealthy {
		h.logger.WithFields(logrus.Fields{
			"overall_status":       overallStatus,
			"unhealthy_components": unhealthyComponents(components),
		}).Warn("Health check completed with issues")
	} else {
		h.logger.Debug("Health check completed successfully")
	}
}

func unhealthyComponents(components map[string]ComponentHealth) []string {
	var unhealthy []string
	for name, component := range components {
		if component.Status != HealthStateHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

// GetStatus returns a copy of the last report.
func (h *HealthChecker) GetStatus() *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	status := *h.status
	status.Components = make(map[string]ComponentHealth, len(h.status.Components))
	for k, v := range h.status.Components {
		status.Components[k] = v
	}
	return &status
}
