package ledger

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Field limits of the stored columns
const (
	MaxTitleLength        = 200
	MaxCategoryNameLength = 100
	MaxAmountDigits       = 10
	MaxAmountUAHDigits    = 14
	AmountPlaces          = 2
)

// TransactionInput is the writable part of a transaction. On partial updates
// nil fields are left unchanged.
type TransactionInput struct {
	Type         *string          `json:"type"`
	Amount       *decimal.Decimal `json:"amount"`
	Title        *string          `json:"title"`
	CategoryName *string          `json:"category_name"`
	Currency     *string          `json:"currency"`
	CurrencyCode *string          `json:"currency_code"`
}

func required(field string) error {
	return utils.FieldError(field, "This field is required.")
}

// Validate checks the input. With partial only the present fields are
// checked, otherwise every writable field is required.
func (in *TransactionInput) Validate(partial bool) error {
	if !partial {
		switch {
		case in.Type == nil:
			return required("type")
		case in.Amount == nil:
			return required("amount")
		case in.Title == nil:
			return required("title")
		case in.CategoryName == nil:
			return required("category_name")
		}
	}

	if in.Type != nil && !models.ValidTransactionType(*in.Type) {
		return utils.FieldError("type", fmt.Sprintf("\"%s\" is not a valid choice.", *in.Type))
	}
	if in.Amount != nil {
		if err := ValidateAmount(*in.Amount); err != nil {
			return err
		}
	}
	if in.Title != nil {
		if err := validateText("title", *in.Title, MaxTitleLength); err != nil {
			return err
		}
	}
	if in.CategoryName != nil {
		if err := validateText("category_name", *in.CategoryName, MaxCategoryNameLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAmount enforces the precision of the amount column
func ValidateAmount(amount decimal.Decimal) error {
	return utils.CheckDecimal("amount", amount, MaxAmountDigits, AmountPlaces)
}

// checkAmountUAH rejects a converted amount the amount_uah column cannot hold
func checkAmountUAH(amountUAH decimal.Decimal) error {
	if utils.CheckDecimal("amount", amountUAH, MaxAmountUAHDigits, AmountPlaces) != nil {
		return utils.FieldError("amount",
			fmt.Sprintf("Ensure the amount converted to UAH has no more than %d digits in total.", MaxAmountUAHDigits))
	}
	return nil
}

func validateText(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return utils.FieldError(field, "This field may not be blank.")
	}
	if utf8.RuneCountInString(value) > max {
		return utils.FieldError(field, fmt.Sprintf("Ensure this field has no more than %d characters.", max))
	}
	return nil
}

// ParseFilter reads transaction list filters from query parameters.
// Unparsable values are ignored.
func ParseFilter(query url.Values) models.TransactionFilter {
	var filter models.TransactionFilter

	for _, raw := range query["category"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			continue
		}
		filter.CategoryIDs = append(filter.CategoryIDs, id)
	}

	if t := query.Get("type"); models.ValidTransactionType(t) {
		filter.Type = t
	}

	if raw := query.Get("min_amount"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			filter.MinAmount = &v
		}
	}
	if raw := query.Get("max_amount"); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil {
			filter.MaxAmount = &v
		}
	}

	return filter
}
