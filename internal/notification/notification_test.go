package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/financial-tracker/internal/cache"
	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []*Message
	failures int
}

func (r *recordingSender) Send(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to send email", "connection refused")
	}
	copied := *msg
	r.sent = append(r.sent, &copied)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testMailConfig() config.MailConfig {
	return config.MailConfig{
		Enabled:       true,
		Host:          "mailhog",
		Port:          1025,
		FromEmail:     "noreply@tracker.local",
		QueueKey:      "mail:outbox",
		Workers:       2,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestNotifySynchronousRetries(t *testing.T) {
	sender := &recordingSender{failures: 2}
	m := metrics.NewManager()
	nm := NewNotificationManager(testMailConfig(), sender, nil, m)
	nm.sleep = noSleep

	msg, err := SpendingWarningEmail("alice", "alice@example.com", mustDecimal("850"), mustDecimal("1000"), mustDecimal("80"))
	require.NoError(t, err)

	require.NoError(t, nm.Notify(context.Background(), msg))
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 3, msg.Attempts)

	stats := nm.GetStats()
	assert.Equal(t, uint64(1), stats.TotalSent)
	assert.Equal(t, uint64(0), stats.TotalFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GetPrometheusMetrics().NotificationsSentTotal.WithLabelValues("email", KindSpendingWarning)))
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	sender := &recordingSender{failures: 10}
	m := metrics.NewManager()
	nm := NewNotificationManager(testMailConfig(), sender, nil, m)
	nm.sleep = noSleep

	msg, err := SpendingExceededEmail("bob", "bob@example.com", mustDecimal("1200"), mustDecimal("1000"))
	require.NoError(t, err)

	err = nm.Notify(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeExternal))
	assert.Equal(t, 3, msg.Attempts)
	assert.Equal(t, uint64(1), nm.GetStats().TotalFailed)
	assert.NotEmpty(t, nm.GetHealth().Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GetPrometheusMetrics().NotificationFailuresTotal.WithLabelValues("email", KindSpendingExceeded, utils.ErrCodeExternal)))
}

func TestNotifyDisabledSkips(t *testing.T) {
	cfg := testMailConfig()
	cfg.Enabled = false
	sender := &recordingSender{}
	nm := NewNotificationManager(cfg, sender, nil, nil)

	msg, err := VerificationEmail("carol", "carol@example.com", "http://localhost/verify?token=abc", "24h")
	require.NoError(t, err)

	require.NoError(t, nm.Notify(context.Background(), msg))
	assert.Equal(t, 0, sender.count())
	assert.Equal(t, uint64(1), nm.GetStats().TotalSkipped)
}

func TestNotifyRejectsInvalidMessage(t *testing.T) {
	nm := NewNotificationManager(testMailConfig(), &recordingSender{}, nil, nil)

	err := nm.Notify(context.Background(), &Message{To: []string{"not-an-address"}, Subject: "x"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	err = nm.Notify(context.Background(), &Message{To: []string{"a@b.c"}})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func TestQueuedDeliveryThroughWorkers(t *testing.T) {
	srv := miniredis.RunT(t)
	m := metrics.NewManager()
	c, err := cache.New(config.CacheConfig{URL: "redis://" + srv.Addr() + "/0"}, m)
	require.NoError(t, err)
	defer c.Close()

	cfg := testMailConfig()
	cfg.QueueEnabled = true
	sender := &recordingSender{}
	nm := NewNotificationManager(cfg, sender, c, m)

	// Queue before workers start so the outbox holds the messages
	for _, to := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		msg, err := PasswordResetEmail("user", to, "http://localhost/reset?token=t", "1h")
		require.NoError(t, err)
		require.NoError(t, nm.Notify(context.Background(), msg))
	}
	assert.Equal(t, uint64(3), nm.GetStats().TotalQueued)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GetPrometheusMetrics().MailQueueDepth))
	assert.Equal(t, 0, sender.count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, nm.Start(ctx))
	assert.True(t, nm.IsHealthy())
	assert.Equal(t, 2, nm.GetStats().ActiveWorkers)

	require.Eventually(t, func() bool { return sender.count() == 3 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, nm.Stop())
	assert.False(t, nm.IsHealthy())
	assert.Equal(t, uint64(3), nm.GetStats().TotalSent)

	n, err := c.QueueLength(context.Background(), cfg.QueueKey)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// stallingSender blocks every delivery until the context is cancelled
type stallingSender struct {
	started chan struct{}
	once    sync.Once
}

func (s *stallingSender) Send(ctx context.Context, msg *Message) error {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestStopRequeuesInterruptedDelivery(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := cache.New(config.CacheConfig{URL: "redis://" + srv.Addr() + "/0"}, nil)
	require.NoError(t, err)
	defer c.Close()

	cfg := testMailConfig()
	cfg.QueueEnabled = true
	cfg.Workers = 1
	sender := &stallingSender{started: make(chan struct{})}
	nm := NewNotificationManager(cfg, sender, c, nil)

	msg, err := VerificationEmail("erin", "erin@example.com", "http://localhost/verify?token=t", "24h")
	require.NoError(t, err)
	require.NoError(t, nm.Notify(context.Background(), msg))

	require.NoError(t, nm.Start(context.Background()))
	select {
	case <-sender.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the message")
	}
	require.NoError(t, nm.Stop())

	n, err := c.QueueLength(context.Background(), cfg.QueueKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, nm.GetStats().TotalFailed)

	var requeued Message
	ok, err := c.Dequeue(context.Background(), cfg.QueueKey, time.Second, &requeued)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, msg.ID, requeued.ID)
	assert.Equal(t, []string{"erin@example.com"}, requeued.To)
}

func TestStartTwiceFails(t *testing.T) {
	nm := NewNotificationManager(testMailConfig(), &recordingSender{}, nil, nil)
	require.NoError(t, nm.Start(context.Background()))
	defer nm.Stop()

	err := nm.Start(context.Background())
	assert.Error(t, err)
}

func TestQueueFailureIsCounted(t *testing.T) {
	cfg := testMailConfig()
	cfg.QueueEnabled = true
	nm := NewNotificationManager(cfg, &recordingSender{}, failingQueue{}, nil)

	msg, err := VerificationEmail("dave", "dave@example.com", "http://x", "24h")
	require.NoError(t, err)

	err = nm.Notify(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, uint64(1), nm.GetStats().TotalFailed)
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, queue string, payload interface{}) error {
	return errors.New("redis down")
}

func (failingQueue) Dequeue(ctx context.Context, queue string, timeout time.Duration, dest interface{}) (bool, error) {
	return false, errors.New("redis down")
}

func (failingQueue) QueueLength(ctx context.Context, queue string) (int64, error) {
	return 0, errors.New("redis down")
}
