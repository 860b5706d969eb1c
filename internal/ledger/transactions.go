package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/currency"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// TransactionView is the detail representation of a transaction
type TransactionView struct {
	*models.Transaction
	CurrencyInfo string `json:"currency_info"`
}

func view(t *models.Transaction) *TransactionView {
	v := &TransactionView{Transaction: t}
	if t.Currency != nil {
		v.CurrencyInfo = t.Currency.String()
	}
	return v
}

// resolveCurrency picks the transaction currency from the input. A named
// currency wins over an explicit code; neither means UAH.
func (s *Service) resolveCurrency(ctx context.Context, in *TransactionInput) (*models.Currency, bool, error) {
	var code string
	switch {
	case in.Currency != nil && strings.TrimSpace(*in.Currency) != "":
		code = currency.NormalizeCode(*in.Currency)
	case in.CurrencyCode != nil && strings.TrimSpace(*in.CurrencyCode) != "":
		code = strings.ToUpper(strings.TrimSpace(*in.CurrencyCode))
	default:
		return nil, false, nil
	}

	c, err := s.store.GetCurrency(ctx, code)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil, false, utils.FieldError("currency_code", fmt.Sprintf("Currency with code '%s' does not exist.", code))
		}
		return nil, false, err
	}
	return c, true, nil
}

func (s *Service) baseCurrency(ctx context.Context) (*models.Currency, error) {
	return s.store.EnsureCurrency(ctx, models.BaseCurrency, currency.Name(models.BaseCurrency))
}

// CreateTransaction records a new income or expense for the user. Expenses
// that would overdraw the balance are rejected; accepted expenses are checked
// against the user's spending limit.
func (s *Service) CreateTransaction(ctx context.Context, userID int64, in *TransactionInput) (*TransactionView, error) {
	if err := in.Validate(false); err != nil {
		s.recordRejection(err)
		return nil, err
	}

	cur, ok, err := s.resolveCurrency(ctx, in)
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}
	if !ok {
		if cur, err = s.baseCurrency(ctx); err != nil {
			return nil, err
		}
	}

	category, err := s.store.GetOrCreateCategory(ctx, userID, strings.TrimSpace(*in.CategoryName))
	if err != nil {
		return nil, err
	}

	amount := in.Amount.Abs()
	t := &models.Transaction{
		UserID:     userID,
		Type:       *in.Type,
		Amount:     amount,
		AmountUAH:  cur.ToUAH(amount).Round(AmountPlaces),
		Title:      *in.Title,
		CategoryID: category.ID,
		Category:   category,
		CurrencyID: cur.ID,
		Currency:   cur,
	}
	if err := checkAmountUAH(t.AmountUAH); err != nil {
		s.recordRejection(err)
		return nil, err
	}

	// Month-to-date spending before this expense is applied
	var spent *spending
	if t.Type == models.TransactionExpense {
		spent, err = s.spendingBefore(ctx, userID)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Spending limit check skipped")
		}
	}

	if err := s.store.CreateTransaction(ctx, t, true); err != nil {
		s.recordRejection(err)
		return nil, err
	}
	s.recordTransaction("create", t.Type)

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": t.ID,
		"type":           t.Type,
		"amount_uah":     t.AmountUAH.String(),
	}).Info("Transaction created")

	if spent != nil {
		s.checkSpendingLimit(ctx, spent, t.AmountUAH)
	}
	return view(t), nil
}

// GetTransaction returns one of the user's transactions
func (s *Service) GetTransaction(ctx context.Context, userID, id int64) (*TransactionView, error) {
	t, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return view(t), nil
}

// ListTransactions returns the user's transactions, newest first
func (s *Service) ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]models.TransactionListItem, error) {
	transactions, err := s.store.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	items := make([]models.TransactionListItem, 0, len(transactions))
	for _, t := range transactions {
		items = append(items, t.ListItem())
	}
	return items, nil
}

// UpdateTransaction rewrites a transaction. With partial only the fields
// present in the input change. The old balance effect is reverted and the
// new one applied atomically.
func (s *Service) UpdateTransaction(ctx context.Context, userID, id int64, in *TransactionInput, partial bool) (*TransactionView, error) {
	if err := in.Validate(partial); err != nil {
		s.recordRejection(err)
		return nil, err
	}

	t, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	repriced := false
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Amount != nil {
		t.Amount = in.Amount.Abs()
		repriced = true
	}
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.CategoryName != nil {
		category, err := s.store.GetOrCreateCategory(ctx, userID, strings.TrimSpace(*in.CategoryName))
		if err != nil {
			return nil, err
		}
		t.CategoryID = category.ID
		t.Category = category
	}

	cur, ok, err := s.resolveCurrency(ctx, in)
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}
	if ok {
		t.CurrencyID = cur.ID
		t.Currency = cur
		repriced = true
	}

	// The UAH snapshot only moves when amount or currency were touched
	if repriced {
		t.AmountUAH = t.Currency.ToUAH(t.Amount).Round(AmountPlaces)
		if err := checkAmountUAH(t.AmountUAH); err != nil {
			s.recordRejection(err)
			return nil, err
		}
	}

	if err := s.store.UpdateTransaction(ctx, t, true); err != nil {
		s.recordRejection(err)
		return nil, err
	}
	s.recordTransaction("update", t.Type)

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": t.ID,
		"partial":        partial,
	}).Info("Transaction updated")
	return view(t), nil
}

// DeleteTransaction removes a transaction and reverts its balance effect
func (s *Service) DeleteTransaction(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteTransaction(ctx, userID, id); err != nil {
		return err
	}
	s.recordTransaction("delete", "")

	s.logger.WithFields(logrus.Fields{"user_id": userID, "transaction_id": id}).Info("Transaction deleted")
	return nil
}
