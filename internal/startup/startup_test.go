package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/connection"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, err error) StepFunc {
	return func(ctx context.Context) error {
		r.calls = append(r.calls, name)
		return err
	}
}

func fastGate() *connection.ReadinessManager {
	return connection.NewReadinessManager(config.HealthCheckConfig{
		Interval: time.Millisecond,
		Timeout:  100 * time.Millisecond,
		Retries:  3,
	}, nil)
}

func probe(name string, cond connection.Condition, fn func(ctx context.Context) error) connection.Probe {
	return connection.ProbeFunc{ProbeName: name, Cond: cond, Fn: fn}
}

func TestSequenceRunsStepsInOrder(t *testing.T) {
	rec := &recorder{}
	m := metrics.NewManager()
	seq := NewSequence(m).
		Add(StepMigrate, rec.step(StepMigrate, nil)).
		Add(StepCollectStatic, rec.step(StepCollectStatic, nil)).
		Add(StepServe, rec.step(StepServe, nil))

	results, err := seq.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{StepMigrate, StepCollectStatic, StepServe}, rec.calls)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
	}

	counter := m.GetPrometheusMetrics().StartupStepsTotal.WithLabelValues(StepMigrate, StatusSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestSequenceStopsAtFirstFailure(t *testing.T) {
	rec := &recorder{}
	m := metrics.NewManager()
	migrateErr := utils.NewAppError(utils.ErrCodeDatabase, "Migration failed", "syntax error")

	seq := NewSequence(m).
		Add(StepMigrate, rec.step(StepMigrate, migrateErr)).
		Add(StepCollectStatic, rec.step(StepCollectStatic, nil)).
		Add(StepServe, rec.step(StepServe, nil))

	results, err := seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup step migrate failed")
	assert.True(t, utils.IsCode(err, utils.ErrCodeDatabase))

	assert.Equal(t, []string{StepMigrate}, rec.calls)
	require.Len(t, results, 3)
	assert.Equal(t, StatusFailure, results[0].Status)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, StatusSkipped, results[2].Status)

	failed := m.GetPrometheusMetrics().StartupStepsTotal.WithLabelValues(StepMigrate, StatusFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(failed))
}

func TestSequenceHonoursCancelledContext(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewSequence(nil).Add(StepServe, rec.step(StepServe, nil)).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.calls)
	assert.Equal(t, StatusSkipped, results[0].Status)
}

func TestPlanFixedVariant(t *testing.T) {
	rec := &recorder{}
	cfg := config.StartupConfig{WaitForDatabase: true, RunMigrations: true, CollectStatic: true}

	seq, err := Plan(cfg, Hooks{
		Gate:          fastGate(),
		Datastore:     probe("db", connection.ConditionHealthy, func(context.Context) error { return nil }),
		Migrate:       rec.step(StepMigrate, nil),
		CollectStatic: rec.step(StepCollectStatic, nil),
		Serve:         rec.step(StepServe, nil),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{StepWaitDatastore, StepMigrate, StepCollectStatic, StepServe}, seq.Names())
}

func TestPlanParameterizedVariant(t *testing.T) {
	rec := &recorder{}
	cfg := config.StartupConfig{WaitForDatabase: true, WaitForMailSink: true, RunMigrations: true}
	ok := func(context.Context) error { return nil }

	seq, err := Plan(cfg, Hooks{
		Gate:      fastGate(),
		Datastore: probe("db", connection.ConditionHealthy, ok),
		MailSink:  probe("mailhog", connection.ConditionStarted, ok),
		Migrate:   rec.step(StepMigrate, nil),
		Serve:     rec.step(StepServe, nil),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{StepWaitDatastore, StepWaitMailSink, StepMigrate, StepServe}, seq.Names())

	_, err = seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StepMigrate, StepServe}, rec.calls)
}

func TestPlanRequiresHooksForEnabledSteps(t *testing.T) {
	_, err := Plan(config.StartupConfig{WaitForDatabase: true}, Hooks{}, nil)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))

	_, err = Plan(config.StartupConfig{RunMigrations: true}, Hooks{}, nil)
	require.Error(t, err)
}

func TestServeWaitsForDatastore(t *testing.T) {
	rec := &recorder{}
	probes := 0
	datastore := probe("db", connection.ConditionHealthy, func(context.Context) error {
		probes++
		if probes < 3 {
			return errors.New("the database system is starting up")
		}
		rec.calls = append(rec.calls, "db-ready")
		return nil
	})

	seq, err := Plan(config.StartupConfig{WaitForDatabase: true}, Hooks{
		Gate:      fastGate(),
		Datastore: datastore,
		Serve:     rec.step(StepServe, nil),
	}, nil)
	require.NoError(t, err)

	_, err = seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"db-ready", StepServe}, rec.calls)
}

func TestServeNeverRunsWhenDatastoreStaysDown(t *testing.T) {
	rec := &recorder{}
	datastore := probe("db", connection.ConditionHealthy, func(context.Context) error {
		return errors.New("connection refused")
	})

	seq, err := Plan(config.StartupConfig{WaitForDatabase: true, RunMigrations: true}, Hooks{
		Gate:      fastGate(),
		Datastore: datastore,
		Migrate:   rec.step(StepMigrate, nil),
		Serve:     rec.step(StepServe, nil),
	}, nil)
	require.NoError(t, err)

	results, err := seq.Run(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeDependency))
	assert.Empty(t, rec.calls)
	assert.Equal(t, StatusFailure, results[0].Status)
}
