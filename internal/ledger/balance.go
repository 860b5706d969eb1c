package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// ErrNoCurrency is returned when a balance is needed but no currency exists
var ErrNoCurrency = utils.NewAppError(utils.ErrCodeValidation, "No currency found in the system")

// GetBalance returns the user's balance with the most recent transactions.
// A missing balance is created in the first currency; created reports it.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*models.BalanceDetail, bool, error) {
	balance, err := s.store.GetBalance(ctx, userID)
	created := false

	if utils.IsCode(err, utils.ErrCodeNotFound) {
		balance, created, err = s.createBalance(ctx, userID)
	}
	if err != nil {
		return nil, false, err
	}

	detail, err := s.detail(ctx, balance)
	if err != nil {
		return nil, false, err
	}
	return detail, created, nil
}

func (s *Service) createBalance(ctx context.Context, userID int64) (*models.Balance, bool, error) {
	first, err := s.store.FirstCurrency(ctx)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil, false, ErrNoCurrency
		}
		return nil, false, err
	}

	balance := &models.Balance{UserID: userID, Amount: decimal.Zero, CurrencyID: first.ID, Currency: first}
	if err := s.store.CreateBalance(ctx, balance); err != nil {
		// Lost a race with a concurrent request
		if utils.IsCode(err, utils.ErrCodeConflict) {
			existing, err := s.store.GetBalance(ctx, userID)
			return existing, false, err
		}
		return nil, false, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "currency": first.Code}).Info("Balance created")
	return balance, true, nil
}

func (s *Service) detail(ctx context.Context, balance *models.Balance) (*models.BalanceDetail, error) {
	recent, err := s.ListTransactions(ctx, balance.UserID, models.TransactionFilter{Limit: models.RecentTransactionsLimit})
	if err != nil {
		return nil, err
	}
	return &models.BalanceDetail{Balance: *balance, RecentTransactions: recent}, nil
}

// ResetBalance deletes all of the user's transactions and categories and
// sets the balance to zero.
func (s *Service) ResetBalance(ctx context.Context, userID int64) (*models.BalanceDetail, error) {
	balance, err := s.store.ResetBalance(ctx, userID)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil, ErrNoCurrency
		}
		return nil, err
	}
	s.recordTransaction("reset", "")

	s.logger.WithField("user_id", userID).Info("Balance reset")
	return s.detail(ctx, balance)
}

// AdjustBalance moves the balance by amount through a transaction in the
// balance adjustment category. Negative amounts are recorded as expenses and
// may take the balance below zero.
func (s *Service) AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal, reason string) (*models.BalanceDetail, error) {
	if amount.IsZero() {
		return nil, utils.FieldError("amount", "You must specify the amount.")
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = models.DefaultAdjustmentReason
	}
	if err := validateText("reason", reason, MaxTitleLength); err != nil {
		return nil, err
	}

	cur, err := s.baseCurrency(ctx)
	if err != nil {
		return nil, err
	}
	category, err := s.store.GetOrCreateCategory(ctx, userID, models.BalanceAdjustmentCategory)
	if err != nil {
		return nil, err
	}

	txType := models.TransactionIncome
	if amount.IsNegative() {
		txType = models.TransactionExpense
	}

	t := &models.Transaction{
		UserID:     userID,
		Type:       txType,
		Amount:     amount.Abs(),
		AmountUAH:  amount.Abs(),
		Title:      reason,
		CategoryID: category.ID,
		Category:   category,
		CurrencyID: cur.ID,
		Currency:   cur,
	}
	if err := s.store.CreateTransaction(ctx, t, false); err != nil {
		return nil, err
	}
	s.recordTransaction("adjust", txType)

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount.String(),
		"reason":  reason,
	}).Info("Balance adjusted")

	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, balance)
}
