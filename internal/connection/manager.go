package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Manager defines the readiness gate interface
type Manager interface {
	WaitFor(ctx context.Context, probe Probe) error
	WaitAll(ctx context.Context, probes ...Probe) error
	CheckNow(ctx context.Context, probes ...Probe) map[string]error
	Stats() map[string]DependencyStatus
}

// DependencyStatus holds the readiness state of one dependency
type DependencyStatus struct {
	Name        string        `json:"name"`
	Condition   Condition     `json:"condition"`
	Ready       bool          `json:"ready"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	LastCheck   time.Time     `json:"last_check"`
	ReadyAt     *time.Time    `json:"ready_at,omitempty"`
	WaitElapsed time.Duration `json:"wait_elapsed"`
}

// ReadinessManager polls dependencies until they satisfy their condition
type ReadinessManager struct {
	config         config.HealthCheckConfig
	mu             sync.RWMutex
	logger         *logrus.Entry
	stats          map[string]DependencyStatus
	metricsManager *metrics.Manager
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewReadinessManager creates a new readiness gate
func NewReadinessManager(cfg config.HealthCheckConfig, metricsManager *metrics.Manager) *ReadinessManager {
	return &ReadinessManager{
		config:         cfg,
		logger:         utils.Component("readiness"),
		stats:          make(map[string]DependencyStatus),
		metricsManager: metricsManager,
		sleep:          sleepContext,
	}
}

// WaitFor blocks until probe passes, the retry budget is exhausted or ctx is
// cancelled. Each attempt is bounded by the configured probe timeout.
func (rm *ReadinessManager) WaitFor(ctx context.Context, probe Probe) error {
	start := time.Now()
	status := DependencyStatus{Name: probe.Name(), Condition: probe.Condition()}
	var lastErr error

	for attempt := 0; attempt < rm.config.Retries; attempt++ {
		rm.logger.WithFields(logrus.Fields{
			"dependency": probe.Name(),
			"condition":  probe.Condition(),
			"attempt":    attempt + 1,
		}).Info("Probing dependency")

		probeCtx, cancel := context.WithTimeout(ctx, rm.config.Timeout)
		lastErr = probe.Check(probeCtx)
		cancel()

		status.Attempts = attempt + 1
		status.LastCheck = time.Now()
		rm.recordProbe(probe.Name(), lastErr == nil)

		if lastErr == nil {
			now := time.Now()
			status.Ready = true
			status.LastError = ""
			status.ReadyAt = &now
			status.WaitElapsed = time.Since(start)
			rm.setStatus(status)

			rm.logger.WithFields(logrus.Fields{
				"dependency": probe.Name(),
				"attempts":   status.Attempts,
				"elapsed":    status.WaitElapsed.String(),
			}).Info("Dependency ready")
			return nil
		}

		status.LastError = lastErr.Error()
		rm.setStatus(status)
		rm.logger.WithFields(logrus.Fields{
			"dependency": probe.Name(),
			"attempt":    attempt + 1,
			"error":      lastErr,
		}).Warn("Dependency not ready")

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < rm.config.Retries-1 {
			if err := rm.sleep(ctx, rm.config.Interval); err != nil {
				return err
			}
		}
	}

	status.WaitElapsed = time.Since(start)
	rm.setStatus(status)

	details := fmt.Sprintf("%s not satisfied after %d attempts", probe.Condition(), rm.config.Retries)
	if lastErr != nil {
		details += ": " + lastErr.Error()
	}
	return utils.NewAppError(utils.ErrCodeDependency,
		fmt.Sprintf("Dependency %s is not ready", probe.Name()), details)
}

// WaitAll waits for each probe in order and stops at the first failure.
func (rm *ReadinessManager) WaitAll(ctx context.Context, probes ...Probe) error {
	for _, probe := range probes {
		if err := rm.WaitFor(ctx, probe); err != nil {
			return err
		}
	}
	return nil
}

// CheckNow runs every probe once with the probe timeout and returns the
// outcome per dependency name. A nil error means healthy.
func (rm *ReadinessManager) CheckNow(ctx context.Context, probes ...Probe) map[string]error {
	results := make(map[string]error, len(probes))
	for _, probe := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, rm.config.Timeout)
		err := probe.Check(probeCtx)
		cancel()

		results[probe.Name()] = err
		rm.recordProbe(probe.Name(), err == nil)
		if rm.metricsManager != nil {
			rm.metricsManager.GetPrometheusMetrics().UpdateComponentHealth(probe.Name(), err == nil)
		}
	}
	return results
}

// Stats returns a snapshot of dependency readiness
func (rm *ReadinessManager) Stats() map[string]DependencyStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make(map[string]DependencyStatus, len(rm.stats))
	for k, v := range rm.stats {
		out[k] = v
	}
	return out
}

// Names returns the names of all dependencies seen so far, sorted.
func (rm *ReadinessManager) Names() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	names := make([]string, 0, len(rm.stats))
	for name := range rm.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Budget is the nominal readiness window: retries times interval.
func (rm *ReadinessManager) Budget() time.Duration {
	return time.Duration(rm.config.Retries) * rm.config.Interval
}

func (rm *ReadinessManager) setStatus(status DependencyStatus) {
	rm.mu.Lock()
	rm.stats[status.Name] = status
	rm.mu.Unlock()
}

func (rm *ReadinessManager) recordProbe(name string, ok bool) {
	if rm.metricsManager != nil {
		rm.metricsManager.GetPrometheusMetrics().RecordReadinessProbe(name, ok)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
