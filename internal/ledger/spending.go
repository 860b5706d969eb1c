package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/internal/notification"
)

// WarningInterval is the minimum time between two threshold warnings
const WarningInterval = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Alert kinds
const (
	AlertNone     = ""
	AlertWarning  = "warning"
	AlertExceeded = "exceeded"
)

type spending struct {
	user  *models.User
	spent decimal.Decimal
}

// StartOfMonth returns midnight UTC on the first day of t's month
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthlySpending returns the user's expenses in UAH since the start of the
// current month.
func (s *Service) MonthlySpending(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.store.SumExpensesSince(ctx, userID, StartOfMonth(s.now()))
}

// spendingBefore loads the user and the month-to-date spending when the user
// has a spending limit. It returns nil without a limit.
func (s *Service) spendingBefore(ctx context.Context, userID int64) (*spending, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.SpendingLimit == nil || !user.SpendingLimit.IsPositive() {
		return nil, nil
	}

	spent, err := s.MonthlySpending(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &spending{user: user, spent: spent}, nil
}

// ShouldSendWarning reports whether no warning went out in the last day
func ShouldSendWarning(user *models.User, now time.Time) bool {
	if user.LastWarningSent == nil {
		return true
	}
	return now.Sub(*user.LastWarningSent) > WarningInterval
}

// EvaluateLimit decides which alert, if any, a projected monthly spending
// triggers for user.
func EvaluateLimit(user *models.User, projected decimal.Decimal, now time.Time) string {
	if user.SpendingLimit == nil || !user.SpendingLimit.IsPositive() {
		return AlertNone
	}
	limit := *user.SpendingLimit

	threshold := user.WarningThreshold
	if threshold.IsZero() {
		threshold = models.DefaultWarningThreshold
	}
	warnAt := limit.Mul(threshold).Div(hundred)

	switch {
	case projected.GreaterThanOrEqual(limit):
		return AlertExceeded
	case projected.GreaterThanOrEqual(warnAt) && ShouldSendWarning(user, now):
		return AlertWarning
	default:
		return AlertNone
	}
}

// checkSpendingLimit mails the user when the new expense brings the month to
// the warning threshold or over the limit. Failures are logged and never
// undo the transaction.
func (s *Service) checkSpendingLimit(ctx context.Context, before *spending, amountUAH decimal.Decimal) {
	user := before.user
	projected := before.spent.Add(amountUAH)
	now := s.now()

	alert := EvaluateLimit(user, projected, now)
	if alert == AlertNone {
		return
	}

	logger := s.logger.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"alert":     alert,
		"projected": projected.String(),
		"limit":     user.SpendingLimit.String(),
	})

	if s.notifier == nil || user.Email == "" {
		logger.Warn("Spending limit reached but user cannot be notified")
		return
	}

	var msg *notification.Message
	var err error
	if alert == AlertExceeded {
		msg, err = notification.SpendingExceededEmail(user.Username, user.Email, projected, *user.SpendingLimit)
	} else {
		threshold := user.WarningThreshold
		if threshold.IsZero() {
			threshold = models.DefaultWarningThreshold
		}
		msg, err = notification.SpendingWarningEmail(user.Username, user.Email, projected, *user.SpendingLimit, threshold)
	}
	if err == nil {
		err = s.notifier.Notify(ctx, msg)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to send spending limit mail")
		return
	}

	if p := s.prometheus(); p != nil {
		p.RecordSpendingLimitAlert(alert)
	}
	logger.Info("Spending limit mail sent")

	if alert == AlertWarning {
		user.LastWarningSent = &now
		if err := s.store.UpdateUser(ctx, user); err != nil {
			logger.WithError(err).Error("Failed to record warning time")
		}
	}
}
