package storage

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationStatus describes the schema version of the database
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	Latest  uint `json:"latest"`
	Pending bool `json:"pending"`
}

// Migrator applies the embedded schema migrations
type Migrator struct {
	m      *migrate.Migrate
	latest uint
	logger *logrus.Entry
}

// NewMigrator creates a migrator for the database at databaseURL. The
// migration bookkeeping lives in table.
func NewMigrator(databaseURL, table string) (*Migrator, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to load embedded migrations", err.Error())
	}

	latest, err := latestVersion(src)
	if err != nil {
		return nil, err
	}

	dsn, err := withMigrationsTable(databaseURL, table)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid database URL", err.Error())
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to initialise migrations", err.Error())
	}

	mg := &Migrator{m: m, latest: latest, logger: utils.Component("migrate")}
	m.Log = &migrateLogger{entry: mg.logger}
	return mg, nil
}

// Up applies all pending migrations. An already current schema is not an
// error; applied reports whether anything ran.
func (mg *Migrator) Up() (applied bool, err error) {
	mg.logger.Info("Applying database migrations")

	err = mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info("Database schema already up to date")
		return false, nil
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Migration failed", err.Error())
	}

	mg.logger.WithField("version", mg.latest).Info("Database migrations completed")
	return true, nil
}

// Down rolls back steps migrations
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Steps must be positive", fmt.Sprint(steps))
	}

	err := mg.m.Steps(-steps)
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, migrate.ErrNilVersion) || errors.Is(err, os.ErrNotExist) {
		mg.logger.Info("Nothing to roll back")
		return nil
	}
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Rollback failed", err.Error())
	}
	return nil
}

// Status reports the current schema version
func (mg *Migrator) Status() (*MigrationStatus, error) {
	version, dirty, err := mg.m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read schema version", err.Error())
	}

	return &MigrationStatus{
		Version: version,
		Dirty:   dirty,
		Latest:  mg.latest,
		Pending: version < mg.latest,
	}, nil
}

// Close releases the migrator's own connection
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// LatestVersion returns the highest embedded migration version
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return latestVersion(src)
}

type versionSource interface {
	First() (uint, error)
	Next(version uint) (uint, error)
}

func latestVersion(src versionSource) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeInternal, "No embedded migrations", err.Error())
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			return version, nil
		}
		version = next
	}
}

func withMigrationsTable(databaseURL, table string) (string, error) {
	if table == "" {
		return databaseURL, nil
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("x-migrations-table", table)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// migrateLogger adapts logrus to migrate.Logger
type migrateLogger struct {
	entry *logrus.Entry
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
