package startup

import (
	"context"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/connection"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Gate waits for a dependency probe to pass
type Gate interface {
	WaitFor(ctx context.Context, probe connection.Probe) error
}

// Hooks supplies the work behind each step. Probes and functions for steps
// the configuration disables may be nil.
type Hooks struct {
	Gate          Gate
	Datastore     connection.Probe
	Cache         connection.Probe
	MailSink      connection.Probe
	Migrate       StepFunc
	CollectStatic StepFunc
	Serve         StepFunc
}

// Plan builds the startup sequence the configuration asks for. The serve
// step is always last and only added when hooks.Serve is set.
func Plan(cfg config.StartupConfig, hooks Hooks, metricsManager *metrics.Manager) (*Sequence, error) {
	seq := NewSequence(metricsManager)

	waits := []struct {
		enabled bool
		name    string
		probe   connection.Probe
	}{
		{cfg.WaitForDatabase, StepWaitDatastore, hooks.Datastore},
		{cfg.WaitForCache, StepWaitCache, hooks.Cache},
		{cfg.WaitForMailSink, StepWaitMailSink, hooks.MailSink},
	}
	for _, w := range waits {
		if !w.enabled {
			continue
		}
		if hooks.Gate == nil || w.probe == nil {
			return nil, missingHook(w.name)
		}
		seq.Add(w.name, waitStep(hooks.Gate, w.probe))
	}

	if cfg.RunMigrations {
		if hooks.Migrate == nil {
			return nil, missingHook(StepMigrate)
		}
		seq.Add(StepMigrate, hooks.Migrate)
	}

	if cfg.CollectStatic {
		if hooks.CollectStatic == nil {
			return nil, missingHook(StepCollectStatic)
		}
		seq.Add(StepCollectStatic, hooks.CollectStatic)
	}

	if hooks.Serve != nil {
		seq.Add(StepServe, hooks.Serve)
	}
	return seq, nil
}

func waitStep(gate Gate, probe connection.Probe) StepFunc {
	return func(ctx context.Context) error {
		return gate.WaitFor(ctx, probe)
	}
}

func missingHook(step string) error {
	return utils.NewAppError(utils.ErrCodeConfiguration, "Startup step has nothing to run", step)
}
