package currency

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Updater refreshes the currency table
type Updater interface {
	UpdateDatabase(ctx context.Context) (*UpdateResult, error)
}

// Scheduler runs rate refreshes on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	updater  Updater
	schedule string
	logger   *logrus.Entry

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entryID cron.EntryID
	running bool
}

// NewScheduler validates schedule and returns a stopped scheduler
func NewScheduler(updater Updater, schedule string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid currency refresh schedule", err.Error())
	}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		updater:  updater,
		schedule: schedule,
		logger:   utils.Component("currency_scheduler"),
	}, nil
}

// Start registers the refresh job and starts the cron runner. With
// refreshNow a refresh runs immediately in the background.
func (s *Scheduler) Start(ctx context.Context, refreshNow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Currency scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.schedule, s.run)
	if err != nil {
		s.cancel()
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid currency refresh schedule", err.Error())
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.logger.WithField("schedule", s.schedule).Info("Currency scheduler started")

	if refreshNow {
		go s.run()
	}
	return nil
}

// Stop stops the runner and waits for a running refresh to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Currency scheduler stopped")
}

// Next returns the next scheduled refresh
func (s *Scheduler) Next() cron.Entry {
	return s.cron.Entry(s.entryID)
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	result, err := s.updater.UpdateDatabase(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled currency refresh failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"source":    result.Source,
		"processed": result.Processed,
		"failed":    result.Failed,
	}).Info("Scheduled currency refresh finished")
}
