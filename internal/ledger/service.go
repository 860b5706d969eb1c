package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/internal/notification"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Store is the persistence the ledger needs
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	GetCurrency(ctx context.Context, code string) (*models.Currency, error)
	FirstCurrency(ctx context.Context) (*models.Currency, error)
	EnsureCurrency(ctx context.Context, code, name string) (*models.Currency, error)

	ListCategories(ctx context.Context, userID int64) ([]*models.Category, error)
	GetCategory(ctx context.Context, userID, id int64) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	GetOrCreateCategory(ctx context.Context, userID int64, name string) (*models.Category, error)
	UpdateCategory(ctx context.Context, category *models.Category) error
	DeleteCategory(ctx context.Context, userID, id int64) error

	GetBalance(ctx context.Context, userID int64) (*models.Balance, error)
	CreateBalance(ctx context.Context, balance *models.Balance) error
	ResetBalance(ctx context.Context, userID int64) (*models.Balance, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction, requireFunds bool) error
	UpdateTransaction(ctx context.Context, tx *models.Transaction, requireFunds bool) error
	DeleteTransaction(ctx context.Context, userID, id int64) error
	GetTransaction(ctx context.Context, userID, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]*models.Transaction, error)
	SumExpensesSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error)
}

// Notifier delivers outgoing mail
type Notifier interface {
	Notify(ctx context.Context, msg *notification.Message) error
}

// Service implements transactions, categories, balances and spending limits
type Service struct {
	store          Store
	notifier       Notifier
	logger         *logrus.Entry
	metricsManager *metrics.Manager
	now            func() time.Time
}

// NewService creates a new ledger service. notifier may be nil, in which case
// spending limit mails are not sent.
func NewService(store Store, notifier Notifier, metricsManager *metrics.Manager) *Service {
	return &Service{
		store:          store,
		notifier:       notifier,
		logger:         utils.Component("ledger"),
		metricsManager: metricsManager,
		now:            time.Now,
	}
}

func (s *Service) prometheus() *metrics.PrometheusMetrics {
	if s.metricsManager == nil {
		return nil
	}
	return s.metricsManager.GetPrometheusMetrics()
}

func (s *Service) recordTransaction(operation, txType string) {
	if p := s.prometheus(); p != nil {
		p.RecordTransaction(operation, txType)
	}
}

func (s *Service) recordRejection(err error) {
	p := s.prometheus()
	if p == nil || err == nil {
		return
	}
	switch {
	case utils.IsCode(err, utils.ErrCodeInsufficientFunds):
		p.RecordLedgerRejection("insufficient_funds")
	case utils.IsCode(err, utils.ErrCodeValidation):
		p.RecordLedgerRejection("validation")
	}
}
