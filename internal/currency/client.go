package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// RatesCacheKey is where the raw provider response is cached
const RatesCacheKey = "external_currency_rates"

const userAgent = "financial-tracker-currency-client/1.0"

// Rate sources reported in metrics and logs
const (
	SourceCache = "cache"
	SourceAPI   = "api"
)

// RatesResponse is the provider payload: rates of every code per 1 USD
type RatesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date,omitempty"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// RatesCache is the subset of the cache used for provider responses
type RatesCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Client fetches exchange rates from the provider with a read-through cache
type Client struct {
	httpClient *http.Client
	url        string
	cache      RatesCache
	cacheTTL   time.Duration
	logger     *logrus.Entry
}

// NewClient creates a rates client. cache may be nil.
func NewClient(cfg config.CurrencyConfig, cache RatesCache) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		url:        cfg.APIURL,
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		logger:     utils.Component("currency_client"),
	}
}

// FetchRates returns the cached provider response when present, otherwise
// calls the provider and caches the result. The second return value names
// where the rates came from.
func (c *Client) FetchRates(ctx context.Context) (*RatesResponse, string, error) {
	if c.cache != nil {
		var cached RatesResponse
		found, err := c.cache.GetJSON(ctx, RatesCacheKey, &cached)
		if err != nil {
			c.logger.WithError(err).Warn("Rates cache unavailable, calling provider")
		} else if found && len(cached.Rates) > 0 {
			c.logger.Info("Using cached currency data")
			return &cached, SourceCache, nil
		}
	}

	c.logger.WithFields(logrus.Fields{
		"url":     c.url,
		"timeout": c.httpClient.Timeout.String(),
	}).Info("Sending request to currency API")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, SourceAPI, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid currency API URL", err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, SourceAPI, utils.NewAppError(utils.ErrCodeExternal, "Currency API request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, SourceAPI, utils.NewAppError(utils.ErrCodeExternal, "Currency API request failed",
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var data RatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, SourceAPI, utils.NewAppError(utils.ErrCodeExternal, "Invalid currency API response", err.Error())
	}
	if len(data.Rates) == 0 {
		return nil, SourceAPI, utils.NewAppError(utils.ErrCodeExternal, "Rates not found in API response")
	}

	c.logger.WithFields(logrus.Fields{
		"status_code":      resp.StatusCode,
		"currencies_count": len(data.Rates),
	}).Info("Currency rates fetched from API")

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, RatesCacheKey, &data, c.cacheTTL); err != nil {
			c.logger.WithError(err).Warn("Failed to cache currency rates")
		}
	}
	return &data, SourceAPI, nil
}
