package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

const (
	dequeueTimeout = time.Second
	requeueTimeout = 5 * time.Second
)

// Message is an outgoing mail as stored on the queue
type Message struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier defines the outgoing mail interface
type Notifier interface {
	Start(ctx context.Context) error
	Stop() error
	IsHealthy() bool
	Notify(ctx context.Context, msg *Message) error
	GetStats() *NotificationStats
}

// Queue is the subset of the cache used as mail outbox
type Queue interface {
	Enqueue(ctx context.Context, queue string, payload interface{}) error
	Dequeue(ctx context.Context, queue string, timeout time.Duration, dest interface{}) (bool, error)
	QueueLength(ctx context.Context, queue string) (int64, error)
}

// NotificationStats provides delivery statistics
type NotificationStats struct {
	TotalQueued   uint64     `json:"total_queued"`
	TotalSent     uint64     `json:"total_sent"`
	TotalFailed   uint64     `json:"total_failed"`
	TotalSkipped  uint64     `json:"total_skipped"`
	ActiveWorkers int        `json:"active_workers"`
	LastError     *string    `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
}

// NotificationHealth is reported by the detailed health endpoint
type NotificationHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// NotificationManager routes mail either through the Redis outbox, drained by
// a bounded worker pool, or straight to the sender when queueing is off.
type NotificationManager struct {
	config         config.MailConfig
	sender         Sender
	queue          Queue
	logger         *logrus.Entry
	metricsManager *metrics.Manager

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   *NotificationStats
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewNotificationManager creates a new notification manager. queue may be nil,
// in which case every message is delivered synchronously.
func NewNotificationManager(cfg config.MailConfig, sender Sender, queue Queue, metricsManager *metrics.Manager) *NotificationManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &NotificationManager{
		config:         cfg,
		sender:         sender,
		queue:          queue,
		logger:         utils.Component("notification"),
		metricsManager: metricsManager,
		stats:          &NotificationStats{},
		sleep:          sleepContext,
	}
}

func (nm *NotificationManager) queued() bool {
	return nm.config.QueueEnabled && nm.queue != nil
}

// Start launches the delivery workers when queueing is enabled
func (nm *NotificationManager) Start(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager already running")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	nm.cancel = cancel
	nm.running = true

	if nm.queued() {
		for i := 0; i < nm.config.Workers; i++ {
			nm.wg.Add(1)
			go nm.worker(workerCtx, i)
		}
		nm.stats.ActiveWorkers = nm.config.Workers
	}

	nm.logger.WithFields(logrus.Fields{
		"enabled": nm.config.Enabled,
		"queued":  nm.queued(),
		"workers": nm.stats.ActiveWorkers,
		"relay":   nm.config.Address(),
	}).Info("Notification manager started")
	return nil
}

// Stop stops the workers and waits for in-flight deliveries
func (nm *NotificationManager) Stop() error {
	nm.mu.Lock()
	if !nm.running {
		nm.mu.Unlock()
		return nil
	}
	nm.running = false
	cancel := nm.cancel
	nm.mu.Unlock()

	cancel()
	nm.wg.Wait()

	nm.mu.Lock()
	nm.stats.ActiveWorkers = 0
	nm.mu.Unlock()

	nm.logger.Info("Notification manager stopped")
	return nil
}

// IsHealthy returns whether the manager is running
func (nm *NotificationManager) IsHealthy() bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.running
}

// Notify hands msg over for delivery. With queueing enabled it returns once
// the message is on the outbox; otherwise it returns the delivery result.
// Mail disabled in configuration is dropped and counted as skipped.
func (nm *NotificationManager) Notify(ctx context.Context, msg *Message) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = utils.NewMessageID("")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if !nm.config.Enabled {
		nm.mu.Lock()
		nm.stats.TotalSkipped++
		nm.mu.Unlock()
		nm.logger.WithFields(logrus.Fields{"kind": msg.Kind, "message_id": msg.ID}).Debug("Mail disabled, message skipped")
		return nil
	}

	if !nm.queued() {
		return nm.deliver(ctx, msg)
	}

	if err := nm.queue.Enqueue(ctx, nm.config.QueueKey, msg); err != nil {
		nm.recordFailure(msg, "queue", err)
		return err
	}

	nm.mu.Lock()
	nm.stats.TotalQueued++
	nm.mu.Unlock()
	nm.updateQueueDepth(ctx)

	nm.logger.WithFields(logrus.Fields{"kind": msg.Kind, "message_id": msg.ID}).Debug("Message queued")
	return nil
}

func (nm *NotificationManager) worker(ctx context.Context, id int) {
	defer nm.wg.Done()
	logger := nm.logger.WithField("worker", id)
	logger.Debug("Mail worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("Mail worker stopped")
			return
		}

		var msg Message
		ok, err := nm.queue.Dequeue(ctx, nm.config.QueueKey, dequeueTimeout, &msg)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.WithError(err).Warn("Failed to read mail queue")
			_ = nm.sleep(ctx, nm.config.RetryDelay)
			continue
		}
		if !ok {
			continue
		}

		nm.updateQueueDepth(ctx)
		if err := nm.deliver(ctx, &msg); err != nil {
			if ctx.Err() != nil {
				nm.requeue(&msg, logger)
				continue
			}
			logger.WithError(err).WithField("message_id", msg.ID).Error("Dropping undeliverable message")
		}
	}
}

// requeue puts a message interrupted by shutdown back on the outbox
func (nm *NotificationManager) requeue(msg *Message, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	if err := nm.queue.Enqueue(ctx, nm.config.QueueKey, msg); err != nil {
		logger.WithError(err).WithField("message_id", msg.ID).Error("Failed to requeue message, dropping it")
		nm.recordFailure(msg, utils.ErrorCode(err), err)
		return
	}
	logger.WithField("message_id", msg.ID).Info("Message requeued on shutdown")
}

// deliver sends msg with the configured retry attempts and delay
func (nm *NotificationManager) deliver(ctx context.Context, msg *Message) error {
	var lastErr error

	for attempt := 0; attempt < nm.config.RetryAttempts; attempt++ {
		start := time.Now()
		msg.Attempts++

		lastErr = nm.sender.Send(ctx, msg)
		if lastErr == nil {
			nm.mu.Lock()
			nm.stats.TotalSent++
			nm.mu.Unlock()
			if nm.metricsManager != nil {
				nm.metricsManager.GetPrometheusMetrics().RecordNotificationSent("email", msg.Kind, time.Since(start))
			}
			nm.logger.WithFields(logrus.Fields{
				"kind":       msg.Kind,
				"message_id": msg.ID,
				"attempts":   msg.Attempts,
			}).Info("Notification sent")
			return nil
		}

		if utils.IsCode(lastErr, utils.ErrCodeValidation) {
			break
		}

		nm.logger.WithFields(logrus.Fields{
			"kind":       msg.Kind,
			"message_id": msg.ID,
			"attempt":    attempt + 1,
			"error":      lastErr,
		}).Warn("Notification attempt failed")

		if attempt < nm.config.RetryAttempts-1 {
			if err := nm.sleep(ctx, nm.config.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}

	// Interrupted deliveries are requeued by the worker, not counted
	if ctx.Err() != nil {
		return lastErr
	}
	nm.recordFailure(msg, utils.ErrorCode(lastErr), lastErr)
	return lastErr
}

func (nm *NotificationManager) recordFailure(msg *Message, errorType string, err error) {
	nm.mu.Lock()
	nm.stats.TotalFailed++
	errStr := err.Error()
	now := time.Now()
	nm.stats.LastError = &errStr
	nm.stats.LastErrorTime = &now
	nm.mu.Unlock()

	if nm.metricsManager != nil {
		nm.metricsManager.GetPrometheusMetrics().RecordNotificationFailure("email", msg.Kind, errorType)
	}
}

func (nm *NotificationManager) updateQueueDepth(ctx context.Context) {
	if nm.metricsManager == nil {
		return
	}
	depth, err := nm.queue.QueueLength(ctx, nm.config.QueueKey)
	if err != nil {
		return
	}
	nm.metricsManager.GetPrometheusMetrics().UpdateMailQueueDepth(depth)
}

// GetStats returns a copy of the delivery statistics
func (nm *NotificationManager) GetStats() *NotificationStats {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	stats := *nm.stats
	return &stats
}

// GetHealth reports the manager state and the last delivery error
func (nm *NotificationManager) GetHealth() *NotificationHealth {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	health := &NotificationHealth{Healthy: nm.running}
	if nm.stats.LastError != nil {
		health.Error = *nm.stats.LastError
	}
	return health
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
