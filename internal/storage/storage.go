// File: internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/internal/models"
)

// Storage defines the interface for persistence operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	DB() *sql.DB

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id int64) error

	// Currency operations
	ListCurrencies(ctx context.Context) ([]*models.Currency, error)
	GetCurrency(ctx context.Context, code string) (*models.Currency, error)
	GetCurrencyByID(ctx context.Context, id int64) (*models.Currency, error)
	FirstCurrency(ctx context.Context) (*models.Currency, error)
	UpsertCurrency(ctx context.Context, currency *models.Currency) (bool, error)
	EnsureCurrency(ctx context.Context, code, name string) (*models.Currency, error)

	// Category operations
	ListCategories(ctx context.Context, userID int64) ([]*models.Category, error)
	GetCategory(ctx context.Context, userID, id int64) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	GetOrCreateCategory(ctx context.Context, userID int64, name string) (*models.Category, error)
	UpdateCategory(ctx context.Context, category *models.Category) error
	DeleteCategory(ctx context.Context, userID, id int64) error

	// Balance operations
	GetBalance(ctx context.Context, userID int64) (*models.Balance, error)
	CreateBalance(ctx context.Context, balance *models.Balance) error
	ResetBalance(ctx context.Context, userID int64) (*models.Balance, error)

	// Ledger operations. Each call runs in a single SQL transaction that
	// writes the row and moves the balance by its effect.
	CreateTransaction(ctx context.Context, tx *models.Transaction, requireFunds bool) error
	UpdateTransaction(ctx context.Context, tx *models.Transaction, requireFunds bool) error
	DeleteTransaction(ctx context.Context, userID, id int64) error
	GetTransaction(ctx context.Context, userID, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]*models.Transaction, error)
	SumExpensesSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalUsers        int64 `json:"total_users"`
	TotalCurrencies   int64 `json:"total_currencies"`
	TotalCategories   int64 `json:"total_categories"`
	TotalTransactions int64 `json:"total_transactions"`
	DatabaseSize      int64 `json:"database_size_bytes"`
	OpenConnections   int   `json:"open_connections"`
	InUseConnections  int   `json:"in_use_connections"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	MigrationsTable  string        `json:"migrations_table"`
}
