package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TransactionIncome  = "income"
	TransactionExpense = "expense"
)

// Well-known currency and category values
const (
	BaseCurrency              = "UAH"
	BalanceAdjustmentCategory = "Balance adjustment"
	DefaultAdjustmentReason   = "Manual adjustment"
	RecentTransactionsLimit   = 5
)

// TransactionTypeLabels are the display names of the transaction types
var TransactionTypeLabels = map[string]string{
	TransactionIncome:  "Дохід",
	TransactionExpense: "Витрата",
}

// ValidTransactionType reports whether t is income or expense
func ValidTransactionType(t string) bool {
	return t == TransactionIncome || t == TransactionExpense
}

// Currency represents a currency with its rate to the base currency
type Currency struct {
	ID        int64           `json:"-" db:"id"`
	Code      string          `json:"code" db:"code"`
	Name      string          `json:"name" db:"name"`
	RateToUAH decimal.Decimal `json:"rate_to_uah" db:"rate_to_uah"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

func (c *Currency) String() string {
	return fmt.Sprintf("%s - %s", c.Code, c.Name)
}

// ToUAH converts amount in this currency to the base currency
func (c *Currency) ToUAH(amount decimal.Decimal) decimal.Decimal {
	if c == nil || c.Code == BaseCurrency {
		return amount
	}
	return amount.Mul(c.RateToUAH)
}

// Category groups transactions of a user
type Category struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"-" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Balance holds the running total of a user in the base currency
type Balance struct {
	ID         int64           `json:"id" db:"id"`
	UserID     int64           `json:"-" db:"user_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	CurrencyID int64           `json:"-" db:"currency_id"`
	Currency   *Currency       `json:"currency,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction is a single income or expense
type Transaction struct {
	ID         int64           `json:"id" db:"id"`
	UserID     int64           `json:"-" db:"user_id"`
	Type       string          `json:"type" db:"type"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	AmountUAH  decimal.Decimal `json:"amount_uah" db:"amount_uah"`
	Title      string          `json:"title" db:"title"`
	CategoryID int64           `json:"-" db:"category_id"`
	Category   *Category       `json:"category,omitempty"`
	CurrencyID int64           `json:"-" db:"currency_id"`
	Currency   *Currency       `json:"-"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Effect returns the signed change this transaction makes to the balance
func (t *Transaction) Effect() decimal.Decimal {
	if t.Type == TransactionExpense {
		return t.AmountUAH.Neg()
	}
	return t.AmountUAH
}

// TransactionListItem is the compact list representation
type TransactionListItem struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	TypeDisplay  string          `json:"type_display"`
	Amount       decimal.Decimal `json:"amount"`
	Title        string          `json:"title"`
	CategoryName string          `json:"category_name"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ListItem converts a transaction into its list representation
func (t *Transaction) ListItem() TransactionListItem {
	item := TransactionListItem{
		ID:          t.ID,
		Type:        t.Type,
		TypeDisplay: TransactionTypeLabels[t.Type],
		Amount:      t.Amount,
		Title:       t.Title,
		CreatedAt:   t.CreatedAt,
	}
	if t.Category != nil {
		item.CategoryName = t.Category.Name
	}
	return item
}

// TransactionFilter narrows a transaction listing
type TransactionFilter struct {
	CategoryIDs []int64
	Type        string
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	Limit       int
}

// BalanceDetail is a balance together with the latest transactions
type BalanceDetail struct {
	Balance
	RecentTransactions []TransactionListItem `json:"recent_transactions"`
}
