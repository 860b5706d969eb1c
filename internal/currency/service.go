package currency

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// RatePlaces is the precision rates are stored with
const RatePlaces = 4

// Names are the display names of well-known currencies. Other codes are
// named after themselves.
var Names = map[string]string{
	"USD": "USA Dollar",
	"EUR": "Euro",
	"UAH": "Hryvnia",
	"GBP": "Pound",
	"JPY": "Yen",
	"CAD": "Canadian Dollar",
	"CHF": "Swiss Franc",
	"AUD": "Australian Dollar",
	"PLN": "Polish Zloty",
	"CZK": "Czech Crown",
	"CNY": "Chinese Yuan",
}

var aliases = map[string]string{
	"yen":     "JPY",
	"dollar":  "USD",
	"euro":    "EUR",
	"pound":   "GBP",
	"hryvnia": "UAH",
	"гривня":  "UAH",
}

// NormalizeCode maps a currency name or code from user input to its code.
// Empty input yields the base currency.
func NormalizeCode(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return models.BaseCurrency
	}
	if code, ok := aliases[strings.ToLower(s)]; ok {
		return code
	}
	return strings.ToUpper(s)
}

// Name returns the display name of code
func Name(code string) string {
	if name, ok := Names[code]; ok {
		return name
	}
	return code
}

// Store is the subset of storage used for currencies
type Store interface {
	ListCurrencies(ctx context.Context) ([]*models.Currency, error)
	GetCurrency(ctx context.Context, code string) (*models.Currency, error)
	UpsertCurrency(ctx context.Context, currency *models.Currency) (bool, error)
}

// RatesFetcher provides provider rates
type RatesFetcher interface {
	FetchRates(ctx context.Context) (*RatesResponse, string, error)
}

// UpdateResult summarises a rates refresh
type UpdateResult struct {
	Source    string `json:"source"`
	Processed int    `json:"processed"`
	Created   int    `json:"created"`
	Failed    int    `json:"failed"`
}

// Conversion is the result of converting an amount between currencies
type Conversion struct {
	Amount       decimal.Decimal `json:"amount"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Result       decimal.Decimal `json:"result"`
}

// Service keeps the currency table in sync with the provider
type Service struct {
	fetcher        RatesFetcher
	store          Store
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewService creates a new currency service
func NewService(fetcher RatesFetcher, store Store, metricsManager *metrics.Manager) *Service {
	return &Service{
		fetcher:        fetcher,
		store:          store,
		logger:         utils.Component("currency"),
		metricsManager: metricsManager,
	}
}

// UpdateDatabase stores the provider rates converted to UAH. USD is worth
// rates[UAH], UAH is pinned to 1 and every other code is worth
// rates[UAH] / rates[code]. A failing code is counted and skipped.
func (s *Service) UpdateDatabase(ctx context.Context) (*UpdateResult, error) {
	s.logger.Info("Starting currency update process")

	data, source, err := s.fetcher.FetchRates(ctx)
	if err != nil {
		s.recordRefresh(source, false, 0)
		return nil, err
	}

	result, err := s.apply(ctx, data)
	if err != nil {
		s.recordRefresh(source, false, 0)
		return nil, err
	}
	result.Source = source
	s.recordRefresh(source, true, result.Processed)

	s.logger.WithFields(logrus.Fields{
		"source":    source,
		"processed": result.Processed,
		"created":   result.Created,
		"failed":    result.Failed,
	}).Info("Currency update completed")
	return result, nil
}

func (s *Service) apply(ctx context.Context, data *RatesResponse) (*UpdateResult, error) {
	uahPerUSD, ok := data.Rates[models.BaseCurrency]
	if !ok || !uahPerUSD.IsPositive() {
		return nil, utils.NewAppError(utils.ErrCodeExternal, "UAH currency not found in API response")
	}

	result := &UpdateResult{}

	fixed := []*models.Currency{
		{Code: "USD", Name: Name("USD"), RateToUAH: uahPerUSD.Round(RatePlaces)},
		{Code: models.BaseCurrency, Name: Name(models.BaseCurrency), RateToUAH: decimal.NewFromInt(1)},
	}
	for _, c := range fixed {
		created, err := s.store.UpsertCurrency(ctx, c)
		if err != nil {
			return nil, err
		}
		result.Processed++
		if created {
			result.Created++
		}
	}

	codes := make([]string, 0, len(data.Rates))
	for code := range data.Rates {
		if code == "USD" || code == models.BaseCurrency {
			continue
		}
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		rate, err := RateToUAH(uahPerUSD, data.Rates[code])
		if err != nil {
			s.logger.WithFields(logrus.Fields{"currency_code": code, "error": err}).Warn("Error processing currency")
			result.Failed++
			continue
		}

		created, err := s.store.UpsertCurrency(ctx, &models.Currency{Code: code, Name: Name(code), RateToUAH: rate})
		if err != nil {
			s.logger.WithFields(logrus.Fields{"currency_code": code, "error": err}).Warn("Error processing currency")
			result.Failed++
			continue
		}
		result.Processed++
		if created {
			result.Created++
		}
	}

	return result, nil
}

// RateToUAH derives the UAH value of one unit of a currency quoted at
// perUSD units per dollar.
func RateToUAH(uahPerUSD, perUSD decimal.Decimal) (decimal.Decimal, error) {
	if !perUSD.IsPositive() {
		return decimal.Zero, utils.NewAppError(utils.ErrCodeValidation, "Invalid provider rate", perUSD.String())
	}
	rate := uahPerUSD.DivRound(perUSD, RatePlaces)
	if !rate.IsPositive() {
		return decimal.Zero, utils.NewAppError(utils.ErrCodeValidation, "Rate below storable precision", perUSD.String())
	}
	return rate, nil
}

// Convert converts amount from one currency to another using stored rates
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error) {
	if !amount.IsPositive() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "The amount must be greater than 0.")
	}

	fromCurrency, err := s.store.GetCurrency(ctx, NormalizeCode(from))
	if err != nil {
		return nil, err
	}
	toCurrency, err := s.store.GetCurrency(ctx, NormalizeCode(to))
	if err != nil {
		return nil, err
	}

	return convert(amount, fromCurrency, toCurrency)
}

func convert(amount decimal.Decimal, from, to *models.Currency) (*Conversion, error) {
	if !to.RateToUAH.IsPositive() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Currency has no usable rate", to.Code)
	}
	rate := from.RateToUAH.Div(to.RateToUAH)
	return &Conversion{
		Amount:       amount,
		FromCurrency: from.Code,
		ToCurrency:   to.Code,
		Rate:         rate.Round(6),
		Result:       amount.Mul(from.RateToUAH).DivRound(to.RateToUAH, RatePlaces),
	}, nil
}

// List returns every known currency
func (s *Service) List(ctx context.Context) ([]*models.Currency, error) {
	return s.store.ListCurrencies(ctx)
}

// Get returns the currency with the given code or name
func (s *Service) Get(ctx context.Context, code string) (*models.Currency, error) {
	return s.store.GetCurrency(ctx, NormalizeCode(code))
}

func (s *Service) recordRefresh(source string, ok bool, rates int) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordCurrencyRefresh(source, ok, rates)
	}
}
