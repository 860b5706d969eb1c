package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// PostgreSQL error codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db     *sql.DB
	config *StorageConfig
	logger *logrus.Entry
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config: config,
		logger: utils.Component("storage"),
	}
}

// NewPostgreSQLStorageWithDB wraps an already opened database handle
func NewPostgreSQLStorageWithDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		db:     db,
		config: &StorageConfig{},
		logger: utils.Component("storage"),
	}
}

// Open prepares the connection pool without contacting the server.
func (p *PostgreSQLStorage) Open() error {
	if p.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(p.config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	p.db = db
	return nil
}

// Connect opens the pool and verifies the server answers
func (p *PostgreSQLStorage) Connect() error {
	if err := p.Open(); err != nil {
		return err
	}

	if err := p.db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// DB returns the underlying handle
func (p *PostgreSQLStorage) DB() *sql.DB {
	return p.db
}

// withTx runs fn inside a database transaction
func (p *PostgreSQLStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.WithError(rbErr).Warn("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func pqConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// --- users ---

const userColumns = `id, username, email, password_hash, is_active, is_staff,
	spending_limit, warning_threshold, last_warning_sent, date_joined`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var limit decimal.NullDecimal
	var lastWarning sql.NullTime

	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsActive, &user.IsStaff, &limit, &user.WarningThreshold, &lastWarning, &user.DateJoined)
	if err != nil {
		return nil, err
	}

	if limit.Valid {
		user.SpendingLimit = &limit.Decimal
	}
	if lastWarning.Valid {
		user.LastWarningSent = &lastWarning.Time
	}
	return &user, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func userConflict(err error) error {
	if strings.Contains(pqConstraint(err), "email") {
		return utils.NewAppError(utils.ErrCodeConflict, "User with this email already exists", "email")
	}
	return utils.NewAppError(utils.ErrCodeConflict, "A user with that username already exists", "username")
}

// CreateUser inserts a new user
func (p *PostgreSQLStorage) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, is_active, is_staff,
		                   spending_limit, warning_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, date_joined
	`

	if user.WarningThreshold.IsZero() {
		user.WarningThreshold = models.DefaultWarningThreshold
	}

	err := p.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash,
		user.IsActive, user.IsStaff, nullDecimal(user.SpendingLimit), user.WarningThreshold,
	).Scan(&user.ID, &user.DateJoined)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return userConflict(err)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create user", err.Error())
	}
	return nil
}

func (p *PostgreSQLStorage) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + where
	user, err := scanUser(p.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "User not found", "")
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get user", err.Error())
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (p *PostgreSQLStorage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return p.getUser(ctx, "id = $1", id)
}

// GetUserByUsername retrieves a user by username
func (p *PostgreSQLStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return p.getUser(ctx, "username = $1", username)
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (p *PostgreSQLStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return p.getUser(ctx, "LOWER(email) = LOWER($1)", email)
}

// ListUsers returns all users ordered by ID
func (p *PostgreSQLStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query users", err.Error())
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan user", err.Error())
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser writes the mutable user fields
func (p *PostgreSQLStorage) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			is_active = $4,
			spending_limit = $5,
			warning_threshold = $6,
			last_warning_sent = $7
		WHERE id = $1
	`

	result, err := p.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.IsActive,
		nullDecimal(user.SpendingLimit), user.WarningThreshold, nullTime(user.LastWarningSent))
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return userConflict(err)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update user", err.Error())
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "User not found", "")
	}
	return nil
}

// DeleteUser removes a user and, by cascade, everything they own
func (p *PostgreSQLStorage) DeleteUser(ctx context.Context, id int64) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete user", err.Error())
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "User not found", "")
	}
	return nil
}

// --- currencies ---

const currencyColumns = "id, code, name, rate_to_uah, updated_at"

func scanCurrency(row rowScanner) (*models.Currency, error) {
	var c models.Currency
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.RateToUAH, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgreSQLStorage) getCurrency(ctx context.Context, where string, args ...interface{}) (*models.Currency, error) {
	query := "SELECT " + currencyColumns + " FROM currencies " + where
	c, err := scanCurrency(p.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Currency not found", fmt.Sprint(args...))
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get currency", err.Error())
	}
	return c, nil
}

// ListCurrencies returns all currencies ordered by code
func (p *PostgreSQLStorage) ListCurrencies(ctx context.Context) ([]*models.Currency, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+currencyColumns+" FROM currencies ORDER BY code")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query currencies", err.Error())
	}
	defer rows.Close()

	var currencies []*models.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan currency", err.Error())
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

// GetCurrency retrieves a currency by its code
func (p *PostgreSQLStorage) GetCurrency(ctx context.Context, code string) (*models.Currency, error) {
	return p.getCurrency(ctx, "WHERE code = $1", strings.ToUpper(code))
}

// GetCurrencyByID retrieves a currency by ID
func (p *PostgreSQLStorage) GetCurrencyByID(ctx context.Context, id int64) (*models.Currency, error) {
	return p.getCurrency(ctx, "WHERE id = $1", id)
}

// FirstCurrency returns the oldest currency row
func (p *PostgreSQLStorage) FirstCurrency(ctx context.Context) (*models.Currency, error) {
	c, err := p.getCurrency(ctx, "ORDER BY id LIMIT 1")
	if utils.IsCode(err, utils.ErrCodeNotFound) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "No currency found in the system", "")
	}
	return c, err
}

// UpsertCurrency creates or updates a currency by code and reports whether
// the row was created.
func (p *PostgreSQLStorage) UpsertCurrency(ctx context.Context, currency *models.Currency) (bool, error) {
	query := `
		INSERT INTO currencies (code, name, rate_to_uah, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			rate_to_uah = EXCLUDED.rate_to_uah,
			updated_at = NOW()
		RETURNING id, updated_at, (xmax = 0) AS inserted
	`

	currency.Code = strings.ToUpper(currency.Code)
	var inserted bool
	err := p.db.QueryRowContext(ctx, query, currency.Code, currency.Name, currency.RateToUAH).
		Scan(&currency.ID, &currency.UpdatedAt, &inserted)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert currency", err.Error())
	}
	return inserted, nil
}

// EnsureCurrency returns the currency with code, creating it at rate 1 when
// it does not exist yet.
func (p *PostgreSQLStorage) EnsureCurrency(ctx context.Context, code, name string) (*models.Currency, error) {
	query := `
		INSERT INTO currencies (code, name, rate_to_uah, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING ` + currencyColumns

	c, err := scanCurrency(p.db.QueryRowContext(ctx, query, strings.ToUpper(code), name))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to ensure currency", err.Error())
	}
	return c, nil
}

// --- categories ---

const categoryColumns = "id, user_id, name, created_at"

func scanCategory(row rowScanner) (*models.Category, error) {
	var c models.Category
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCategories returns the user's categories, newest first
func (p *PostgreSQLStorage) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	query := "SELECT " + categoryColumns + " FROM categories WHERE user_id = $1 ORDER BY created_at DESC, id DESC"
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query categories", err.Error())
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan category", err.Error())
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory retrieves one of the user's categories
func (p *PostgreSQLStorage) GetCategory(ctx context.Context, userID, id int64) (*models.Category, error) {
	query := "SELECT " + categoryColumns + " FROM categories WHERE id = $1 AND user_id = $2"
	c, err := scanCategory(p.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Category not found", "")
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get category", err.Error())
	}
	return c, nil
}

// CreateCategory inserts a category; the name must be unique per user
func (p *PostgreSQLStorage) CreateCategory(ctx context.Context, category *models.Category) error {
	query := "INSERT INTO categories (user_id, name) VALUES ($1, $2) RETURNING id, created_at"
	err := p.db.QueryRowContext(ctx, query, category.UserID, category.Name).Scan(&category.ID, &category.CreatedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return utils.NewAppError(utils.ErrCodeConflict, "Category with this name already exists", category.Name)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create category", err.Error())
	}
	return nil
}

// GetOrCreateCategory returns the user's category with name, creating it
func (p *PostgreSQLStorage) GetOrCreateCategory(ctx context.Context, userID int64, name string) (*models.Category, error) {
	query := `
		INSERT INTO categories (user_id, name) VALUES ($1, $2)
		ON CONFLICT (name, user_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING ` + categoryColumns

	c, err := scanCategory(p.db.QueryRowContext(ctx, query, userID, name))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get or create category", err.Error())
	}
	return c, nil
}

// UpdateCategory renames a category
func (p *PostgreSQLStorage) UpdateCategory(ctx context.Context, category *models.Category) error {
	query := "UPDATE categories SET name = $3 WHERE id = $1 AND user_id = $2 RETURNING created_at"
	err := p.db.QueryRowContext(ctx, query, category.ID, category.UserID, category.Name).Scan(&category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return utils.NewAppError(utils.ErrCodeNotFound, "Category not found", "")
		}
		if pqCode(err) == pqUniqueViolation {
			return utils.NewAppError(utils.ErrCodeConflict, "Category with this name already exists", category.Name)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update category", err.Error())
	}
	return nil
}

// DeleteCategory removes a category that no transaction references
func (p *PostgreSQLStorage) DeleteCategory(ctx context.Context, userID, id int64) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, "SELECT TRUE FROM categories WHERE id = $1 AND user_id = $2 FOR UPDATE", id, userID).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return utils.NewAppError(utils.ErrCodeNotFound, "Category not found", "")
			}
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to lock category", err.Error())
		}

		var used bool
		err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM transactions WHERE category_id = $1)", id).Scan(&used)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to check category usage", err.Error())
		}
		if used {
			return utils.NewAppError(utils.ErrCodeValidation, "Unable to delete a category used in transactions", "")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE id = $1 AND user_id = $2", id, userID); err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return utils.NewAppError(utils.ErrCodeValidation, "Unable to delete a category used in transactions", "")
			}
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete category", err.Error())
		}
		return nil
	})
}

// --- balances ---

// GetBalance retrieves the user's balance with its currency
func (p *PostgreSQLStorage) GetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	query := `
		SELECT b.id, b.user_id, b.amount, b.updated_at,
		       c.id, c.code, c.name, c.rate_to_uah, c.updated_at
		FROM balances b
		JOIN currencies c ON c.id = b.currency_id
		WHERE b.user_id = $1
	`

	var b models.Balance
	var c models.Currency
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&b.ID, &b.UserID, &b.Amount, &b.UpdatedAt,
		&c.ID, &c.Code, &c.Name, &c.RateToUAH, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Balance not found", "")
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get balance", err.Error())
	}

	b.CurrencyID = c.ID
	b.Currency = &c
	return &b, nil
}

// CreateBalance inserts the user's balance
func (p *PostgreSQLStorage) CreateBalance(ctx context.Context, balance *models.Balance) error {
	query := `
		INSERT INTO balances (user_id, amount, currency_id)
		VALUES ($1, $2, $3)
		RETURNING id, updated_at
	`

	err := p.db.QueryRowContext(ctx, query, balance.UserID, balance.Amount, balance.CurrencyID).
		Scan(&balance.ID, &balance.UpdatedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return utils.NewAppError(utils.ErrCodeConflict, "Balance already exists", "")
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create balance", err.Error())
	}
	return nil
}

// ensureBalance creates the user's balance with the first currency when
// missing and returns its locked amount.
func ensureBalance(ctx context.Context, tx *sql.Tx, userID int64) (decimal.Decimal, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, amount, currency_id)
		SELECT $1, 0, id FROM currencies ORDER BY id LIMIT 1
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return decimal.Zero, utils.NewAppError(utils.ErrCodeDatabase, "Failed to create balance", err.Error())
	}

	var amount decimal.Decimal
	err = tx.QueryRowContext(ctx, "SELECT amount FROM balances WHERE user_id = $1 FOR UPDATE", userID).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, utils.NewAppError(utils.ErrCodeValidation, "No currency found in the system", "")
		}
		return decimal.Zero, utils.NewAppError(utils.ErrCodeDatabase, "Failed to lock balance", err.Error())
	}
	return amount, nil
}

func moveBalance(ctx context.Context, tx *sql.Tx, userID int64, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE balances SET amount = amount + $2, updated_at = NOW() WHERE user_id = $1", userID, delta)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == numericOutOfRange {
			return balanceOutOfRange()
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update balance", err.Error())
	}
	return nil
}

// Precision of balances.amount
const (
	BalanceDigits = 12
	BalancePlaces = 2
)

const numericOutOfRange = "22003"

func balanceOutOfRange() error {
	return utils.FieldError("amount",
		fmt.Sprintf("Ensure the resulting balance has no more than %d digits in total.", BalanceDigits))
}

// CheckBalance rejects a balance amount the balances column cannot hold
func CheckBalance(amount decimal.Decimal) error {
	if utils.CheckDecimal("amount", amount.Round(BalancePlaces), BalanceDigits, BalancePlaces) != nil {
		return balanceOutOfRange()
	}
	return nil
}

// InsufficientFunds builds the error returned when an expense would take the
// balance below zero.
func InsufficientFunds(available, requested decimal.Decimal) error {
	return utils.NewAppError(utils.ErrCodeInsufficientFunds,
		"There are not enough funds on the balance sheet",
		fmt.Sprintf("Available: %s UAH, trying to spend: %s UAH", available.StringFixed(2), requested.StringFixed(2)))
}

// ResetBalance deletes the user's transactions and categories and zeroes the
// balance.
func (p *PostgreSQLStorage) ResetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	var balance models.Balance
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM transactions WHERE user_id = $1", userID); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete transactions", err.Error())
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE user_id = $1", userID); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete categories", err.Error())
		}
		if _, err := ensureBalance(ctx, tx, userID); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx, `
			UPDATE balances SET amount = 0, updated_at = NOW()
			WHERE user_id = $1
			RETURNING id, user_id, amount, currency_id, updated_at
		`, userID).Scan(&balance.ID, &balance.UserID, &balance.Amount, &balance.CurrencyID, &balance.UpdatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to reset balance", err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	currency, err := p.GetCurrencyByID(ctx, balance.CurrencyID)
	if err != nil {
		return nil, err
	}
	balance.Currency = currency
	return &balance, nil
}

// --- transactions ---

const transactionSelect = `
	SELECT t.id, t.user_id, t.type, t.amount, t.amount_uah, t.title, t.created_at,
	       cat.id, cat.user_id, cat.name, cat.created_at,
	       cur.id, cur.code, cur.name, cur.rate_to_uah, cur.updated_at
	FROM transactions t
	JOIN categories cat ON cat.id = t.category_id
	JOIN currencies cur ON cur.id = t.currency_id
`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var cat models.Category
	var cur models.Currency

	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.AmountUAH, &t.Title, &t.CreatedAt,
		&cat.ID, &cat.UserID, &cat.Name, &cat.CreatedAt,
		&cur.ID, &cur.Code, &cur.Name, &cur.RateToUAH, &cur.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.CategoryID = cat.ID
	t.Category = &cat
	t.CurrencyID = cur.ID
	t.Currency = &cur
	return &t, nil
}

// CreateTransaction inserts a transaction and applies it to the balance.
// With requireFunds an expense that would overdraw the balance is rejected.
func (p *PostgreSQLStorage) CreateTransaction(ctx context.Context, t *models.Transaction, requireFunds bool) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		available, err := ensureBalance(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		if requireFunds && t.Type == models.TransactionExpense && available.Sub(t.AmountUAH).IsNegative() {
			return InsufficientFunds(available, t.AmountUAH)
		}
		if err := CheckBalance(available.Add(t.Effect())); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO transactions (user_id, type, amount, amount_uah, title, category_id, currency_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at
		`, t.UserID, t.Type, t.Amount, t.AmountUAH, t.Title, t.CategoryID, t.CurrencyID).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create transaction", err.Error())
		}

		return moveBalance(ctx, tx, t.UserID, t.Effect())
	})
}

// UpdateTransaction rewrites a transaction, reverting its old balance effect
// and applying the new one.
func (p *PostgreSQLStorage) UpdateTransaction(ctx context.Context, t *models.Transaction, requireFunds bool) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		old := models.Transaction{ID: t.ID}
		err := tx.QueryRowContext(ctx,
			"SELECT type, amount_uah FROM transactions WHERE id = $1 AND user_id = $2 FOR UPDATE",
			t.ID, t.UserID).Scan(&old.Type, &old.AmountUAH)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found", "")
			}
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to lock transaction", err.Error())
		}

		current, err := ensureBalance(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		available := current.Sub(old.Effect())
		if requireFunds && t.Type == models.TransactionExpense && available.Sub(t.AmountUAH).IsNegative() {
			return InsufficientFunds(available, t.AmountUAH)
		}
		if err := CheckBalance(available.Add(t.Effect())); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE transactions SET
				type = $3, amount = $4, amount_uah = $5, title = $6, category_id = $7, currency_id = $8
			WHERE id = $1 AND user_id = $2
			RETURNING created_at
		`, t.ID, t.UserID, t.Type, t.Amount, t.AmountUAH, t.Title, t.CategoryID, t.CurrencyID).Scan(&t.CreatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update transaction", err.Error())
		}

		return moveBalance(ctx, tx, t.UserID, t.Effect().Sub(old.Effect()))
	})
}

// DeleteTransaction removes a transaction and reverts its balance effect
func (p *PostgreSQLStorage) DeleteTransaction(ctx context.Context, userID, id int64) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var old models.Transaction
		err := tx.QueryRowContext(ctx,
			"DELETE FROM transactions WHERE id = $1 AND user_id = $2 RETURNING type, amount_uah",
			id, userID).Scan(&old.Type, &old.AmountUAH)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found", "")
			}
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete transaction", err.Error())
		}

		return moveBalance(ctx, tx, userID, old.Effect().Neg())
	})
}

// GetTransaction retrieves one of the user's transactions
func (p *PostgreSQLStorage) GetTransaction(ctx context.Context, userID, id int64) (*models.Transaction, error) {
	t, err := scanTransaction(p.db.QueryRowContext(ctx, transactionSelect+" WHERE t.user_id = $1 AND t.id = $2", userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found", "")
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get transaction", err.Error())
	}
	return t, nil
}

// ListTransactions retrieves the user's transactions, newest first
func (p *PostgreSQLStorage) ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]*models.Transaction, error) {
	query := transactionSelect + " WHERE t.user_id = $1"
	args := []interface{}{userID}
	argIndex := 2

	// Apply filters
	if len(filter.CategoryIDs) > 0 {
		query += fmt.Sprintf(" AND t.category_id = ANY($%d)", argIndex)
		args = append(args, pq.Array(filter.CategoryIDs))
		argIndex++
	}

	if models.ValidTransactionType(filter.Type) {
		query += fmt.Sprintf(" AND t.type = $%d", argIndex)
		args = append(args, filter.Type)
		argIndex++
	}

	if filter.MinAmount != nil {
		query += fmt.Sprintf(" AND t.amount >= $%d", argIndex)
		args = append(args, *filter.MinAmount)
		argIndex++
	}

	if filter.MaxAmount != nil {
		query += fmt.Sprintf(" AND t.amount <= $%d", argIndex)
		args = append(args, *filter.MaxAmount)
		argIndex++
	}

	query += " ORDER BY t.created_at DESC, t.id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query transactions", err.Error())
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan transaction", err.Error())
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// SumExpensesSince returns the user's expense total in UAH since the given time
func (p *PostgreSQLStorage) SumExpensesSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount_uah), 0)
		FROM transactions
		WHERE user_id = $1 AND type = 'expense' AND created_at >= $2
	`

	var total decimal.Decimal
	if err := p.db.QueryRowContext(ctx, query, userID, since).Scan(&total); err != nil {
		return decimal.Zero, utils.NewAppError(utils.ErrCodeDatabase, "Failed to sum expenses", err.Error())
	}
	return total, nil
}

// GetStorageStats returns table counts and pool usage
func (p *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM currencies),
			(SELECT COUNT(*) FROM categories),
			(SELECT COUNT(*) FROM transactions),
			pg_database_size(current_database())
	`

	var stats StorageStats
	err := p.db.QueryRowContext(ctx, query).Scan(&stats.TotalUsers, &stats.TotalCurrencies,
		&stats.TotalCategories, &stats.TotalTransactions, &stats.DatabaseSize)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
	}

	dbStats := p.db.Stats()
	stats.OpenConnections = dbStats.OpenConnections
	stats.InUseConnections = dbStats.InUse
	return &stats, nil
}
