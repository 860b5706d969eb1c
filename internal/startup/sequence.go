package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Step names, in the order they run
const (
	StepWaitDatastore = "wait-datastore"
	StepWaitCache     = "wait-cache"
	StepWaitMailSink  = "wait-mailsink"
	StepMigrate       = "migrate"
	StepCollectStatic = "collectstatic"
	StepServe         = "serve"
)

// Step outcomes
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// StepFunc performs one startup step
type StepFunc func(ctx context.Context) error

// Step is a named unit of the startup sequence
type Step struct {
	Name string
	Run  StepFunc
}

// StepResult records how a step ended
type StepResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Sequence runs startup steps strictly in order and stops at the first
// failure.
type Sequence struct {
	steps          []Step
	logger         *logrus.Entry
	metricsManager *metrics.Manager
	now            func() time.Time
}

// NewSequence creates a sequence from steps. metricsManager may be nil.
func NewSequence(metricsManager *metrics.Manager, steps ...Step) *Sequence {
	return &Sequence{
		steps:          steps,
		logger:         utils.Component("startup"),
		metricsManager: metricsManager,
		now:            time.Now,
	}
}

// Add appends a step
func (s *Sequence) Add(name string, run StepFunc) *Sequence {
	s.steps = append(s.steps, Step{Name: name, Run: run})
	return s
}

// Names returns the step names in run order
func (s *Sequence) Names() []string {
	names := make([]string, 0, len(s.steps))
	for _, step := range s.steps {
		names = append(names, step.Name)
	}
	return names
}

// Run executes every step in order. When a step fails the remaining steps
// are reported as skipped and the error names the failed step.
func (s *Sequence) Run(ctx context.Context) ([]StepResult, error) {
	results := make([]StepResult, 0, len(s.steps))
	s.logger.WithField("steps", s.Names()).Info("Starting startup sequence")

	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			results = append(results, skipped(s.steps[i:])...)
			return results, fmt.Errorf("startup cancelled before %s: %w", step.Name, err)
		}

		logger := s.logger.WithField("step", step.Name)
		logger.Info("Running startup step")

		start := s.now()
		err := step.Run(ctx)
		elapsed := s.now().Sub(start)

		result := StepResult{Name: step.Name, Status: StatusSuccess, Duration: elapsed}
		if err != nil {
			result.Status = StatusFailure
			result.Error = err.Error()
		}
		results = append(results, result)
		s.record(result)

		if err != nil {
			logger.WithError(err).WithField("duration", elapsed).Error("Startup step failed")
			results = append(results, skipped(s.steps[i+1:])...)
			return results, fmt.Errorf("startup step %s failed: %w", step.Name, err)
		}
		logger.WithField("duration", elapsed).Info("Startup step completed")
	}

	s.logger.Info("Startup sequence completed")
	return results, nil
}

func (s *Sequence) record(result StepResult) {
	if s.metricsManager == nil {
		return
	}
	s.metricsManager.GetPrometheusMetrics().RecordStartupStep(result.Name, result.Status, result.Duration)
}

func skipped(steps []Step) []StepResult {
	out := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		out = append(out, StepResult{Name: step.Name, Status: StatusSkipped})
	}
	return out
}
