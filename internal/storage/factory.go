// File: internal/storage/factory.go
package storage

import (
	"net/url"
	"strings"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// NewStorage creates a storage instance based on configuration. When a
// metrics manager is given every ledger operation is measured.
func NewStorage(cfg config.DatabaseConfig, metricsManager *metrics.Manager) (Storage, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	pg := NewPostgreSQLStorage(&StorageConfig{
		ConnectionString: cfg.URL,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		MigrationsTable:  cfg.MigrationsTable,
	})
	if err := pg.Open(); err != nil {
		return nil, err
	}

	if metricsManager == nil {
		return pg, nil
	}
	return NewStorageWithMetrics(pg, metricsManager), nil
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg config.DatabaseConfig) error {
	if cfg.URL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Database URL is required", "")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Database URL is malformed", err.Error())
	}

	supportedSchemes := []string{"postgres", "postgresql"}
	for _, s := range supportedSchemes {
		if strings.EqualFold(u.Scheme, s) {
			if cfg.MaxConnections < 0 {
				return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must not be negative", "")
			}
			return nil
		}
	}

	return utils.NewAppError(utils.ErrCodeConfiguration,
		"Unsupported database scheme",
		"Supported schemes: "+strings.Join(supportedSchemes, ", "))
}
