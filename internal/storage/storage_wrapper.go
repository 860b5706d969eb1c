package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	pm := s.metricsManager.GetPrometheusMetrics()
	pm.RecordDatabaseOperation(operation, table, status, time.Since(start))
	if db := s.Storage.DB(); db != nil {
		pm.UpdateDatabaseConnections(db.Stats().OpenConnections)
	}
}

// CreateTransaction records the insert and its outcome
func (s *StorageWithMetrics) CreateTransaction(ctx context.Context, tx *models.Transaction, requireFunds bool) error {
	start := time.Now()
	err := s.Storage.CreateTransaction(ctx, tx, requireFunds)
	s.record("insert", "transactions", start, err)
	return err
}

// UpdateTransaction records the update and its outcome
func (s *StorageWithMetrics) UpdateTransaction(ctx context.Context, tx *models.Transaction, requireFunds bool) error {
	start := time.Now()
	err := s.Storage.UpdateTransaction(ctx, tx, requireFunds)
	s.record("update", "transactions", start, err)
	return err
}

// DeleteTransaction records the delete and its outcome
func (s *StorageWithMetrics) DeleteTransaction(ctx context.Context, userID, id int64) error {
	start := time.Now()
	err := s.Storage.DeleteTransaction(ctx, userID, id)
	s.record("delete", "transactions", start, err)
	return err
}

// ListTransactions records the query and its outcome
func (s *StorageWithMetrics) ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]*models.Transaction, error) {
	start := time.Now()
	result, err := s.Storage.ListTransactions(ctx, userID, filter)
	s.record("select", "transactions", start, err)
	return result, err
}

// SumExpensesSince records the aggregate query
func (s *StorageWithMetrics) SumExpensesSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	start := time.Now()
	result, err := s.Storage.SumExpensesSince(ctx, userID, since)
	s.record("aggregate", "transactions", start, err)
	return result, err
}

// ResetBalance records the reset
func (s *StorageWithMetrics) ResetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	start := time.Now()
	result, err := s.Storage.ResetBalance(ctx, userID)
	s.record("reset", "balances", start, err)
	return result, err
}

// UpsertCurrency records the upsert
func (s *StorageWithMetrics) UpsertCurrency(ctx context.Context, currency *models.Currency) (bool, error) {
	start := time.Now()
	created, err := s.Storage.UpsertCurrency(ctx, currency)
	s.record("upsert", "currencies", start, err)
	return created, err
}

// CreateUser records the insert
func (s *StorageWithMetrics) CreateUser(ctx context.Context, user *models.User) error {
	start := time.Now()
	err := s.Storage.CreateUser(ctx, user)
	s.record("insert", "users", start, err)
	return err
}
