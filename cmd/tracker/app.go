package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/assets"
	"github.com/smartdevs17/financial-tracker/internal/auth"
	"github.com/smartdevs17/financial-tracker/internal/cache"
	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/connection"
	"github.com/smartdevs17/financial-tracker/internal/currency"
	"github.com/smartdevs17/financial-tracker/internal/ledger"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/internal/notification"
	"github.com/smartdevs17/financial-tracker/internal/server"
	"github.com/smartdevs17/financial-tracker/internal/startup"
	"github.com/smartdevs17/financial-tracker/internal/storage"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the web process
type Application struct {
	config       *config.Config
	logger       *logrus.Entry
	metrics      *metrics.Manager
	readiness    *connection.ReadinessManager
	storage      storage.Storage
	cache        *cache.Cache
	notification *notification.NotificationManager
	currencies   *currency.Service
	scheduler    *currency.Scheduler
	ledger       *ledger.Service
	accounts     *auth.Service
	server       *server.HTTPServer
	startedAt    time.Time
}

// NewApplication creates the application and all of its components. Nothing
// contacts the datastore or the cache until the startup sequence runs.
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	if err := initLogger(app.config.Logging); err != nil {
		return err
	}

	app.logger = utils.Component("app")
	app.logger.WithFields(logrus.Fields{
		"level":   app.config.Logging.Level,
		"format":  app.config.Logging.Format,
		"output":  app.config.Logging.Output,
		"variant": app.config.App.Variant,
	}).Info("Logger initialized")
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()
	app.readiness = connection.NewReadinessManager(app.config.Startup.HealthCheck, app.metrics)

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	app.initializeNotification()

	if err := app.initializeCurrency(); err != nil {
		return fmt.Errorf("failed to initialize currency: %w", err)
	}

	app.ledger = ledger.NewService(app.storage, app.notification, app.metrics)

	if err := app.initializeAuth(); err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage opens the connection pool
func (app *Application) initializeStorage() error {
	app.logger.WithField("database", app.config.Database.RedactedURL()).Info("Initializing storage layer")

	store, err := storage.NewStorage(app.config.Database, app.metrics)
	if err != nil {
		return err
	}
	app.storage = store
	return nil
}

// initializeCache creates the Redis client
func (app *Application) initializeCache() error {
	c, err := cache.New(app.config.Cache, app.metrics)
	if err != nil {
		return err
	}
	app.cache = c
	return nil
}

// initializeNotification creates the mail manager backed by the Redis outbox
func (app *Application) initializeNotification() {
	sender := notification.NewSMTPSender(app.config.Mail)
	app.notification = notification.NewNotificationManager(app.config.Mail, sender, app.cache, app.metrics)
}

// initializeCurrency creates the rates client, service and refresh scheduler
func (app *Application) initializeCurrency() error {
	client := currency.NewClient(app.config.Currency, app.cache)
	app.currencies = currency.NewService(client, app.storage, app.metrics)

	scheduler, err := currency.NewScheduler(app.currencies, app.config.Currency.RefreshSchedule)
	if err != nil {
		return err
	}
	app.scheduler = scheduler
	return nil
}

// initializeAuth creates the token manager and account service
func (app *Application) initializeAuth() error {
	tokens, err := auth.NewTokenManager(app.config.Auth)
	if err != nil {
		return err
	}
	app.accounts = auth.NewService(app.config.Auth, app.storage, tokens, app.cache, app.notification)
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	srv, err := server.NewHTTPServer(app.config.Server, server.Dependencies{
		Accounts:   app.accounts,
		Ledger:     app.ledger,
		Currencies: app.currencies,
		HealthChecks: map[string]server.HealthCheck{
			"database": connection.NewSQLProbe("database", app.storage.DB()).Check,
			"cache":    app.cache.Ping,
		},
		StaticRoot:     app.config.Startup.StaticRoot,
		Version:        AppVersion,
		MetricsManager: app.metrics,
	})
	if err != nil {
		return err
	}
	app.server = srv
	return nil
}

// probes returns the readiness probes for the datastore, the cache and the
// mail sink.
func (app *Application) probes() (datastore, cacheProbe, mailSink connection.Probe) {
	datastore = connection.NewSQLProbe("db", app.storage.DB())
	cacheProbe = connection.NewRedisProbe("redis", app.cache.Client())
	mailSink = connection.NewTCPProbe("mailhog", app.config.Mail.Address())
	return datastore, cacheProbe, mailSink
}

// Sequence builds the configured startup sequence ending in Serve
func (app *Application) Sequence() (*startup.Sequence, error) {
	datastore, cacheProbe, mailSink := app.probes()

	return startup.Plan(app.config.Startup, startup.Hooks{
		Gate:          app.readiness,
		Datastore:     datastore,
		Cache:         cacheProbe,
		MailSink:      mailSink,
		Migrate:       app.migrate,
		CollectStatic: app.collectStatic,
		Serve:         app.Serve,
	}, app.metrics)
}

// WaitForDependencies runs only the readiness gates the configuration enables
func (app *Application) WaitForDependencies(ctx context.Context) error {
	cfg := app.config.Startup
	cfg.RunMigrations = false
	cfg.CollectStatic = false

	datastore, cacheProbe, mailSink := app.probes()
	seq, err := startup.Plan(cfg, startup.Hooks{
		Gate:      app.readiness,
		Datastore: datastore,
		Cache:     cacheProbe,
		MailSink:  mailSink,
	}, app.metrics)
	if err != nil {
		return err
	}
	_, err = seq.Run(ctx)
	return err
}

func (app *Application) migrate(ctx context.Context) error {
	return runMigrations(app.config.Database)
}

func (app *Application) collectStatic(ctx context.Context) error {
	_, err := assets.Collect(app.config.Startup.StaticRoot)
	return err
}

// Serve starts the background workers and the HTTP server, then blocks until
// ctx is cancelled and shuts everything down.
func (app *Application) Serve(ctx context.Context) error {
	app.startedAt = time.Now()
	app.logger.WithFields(logrus.Fields{
		"version": AppVersion,
		"env":     app.config.App.Environment,
		"variant": app.config.App.Variant,
	}).Info("Starting Financial Tracker")

	if err := app.notification.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification manager: %w", err)
	}

	if err := app.scheduler.Start(ctx, app.config.Currency.RefreshOnStart); err != nil {
		return fmt.Errorf("failed to start currency scheduler: %w", err)
	}

	if err := app.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithField("server_address", app.server.Addr()).Info("Financial Tracker started successfully")

	serveErr := awaitShutdown(ctx, app.server.Errors())
	if serveErr != nil {
		app.logger.WithError(serveErr).Error("HTTP server failed, stopping application")
	} else {
		app.logger.Info("Received shutdown signal, stopping application")
	}

	if err := app.Stop(); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// awaitShutdown blocks until ctx is cancelled or the server stops serving
func awaitShutdown(ctx context.Context, serverErrs <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrs:
		return fmt.Errorf("HTTP server stopped: %w", err)
	}
}

// Stop stops the running components in reverse start order
func (app *Application) Stop() error {
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	if app.notification != nil {
		if err := app.notification.Stop(); err != nil {
			app.logger.WithError(err).Warn("Failed to stop notification manager")
		}
	}

	app.logger.WithField("uptime", time.Since(app.startedAt).Round(time.Second).String()).
		Info("Financial Tracker stopped")
	return nil
}

// Close releases the datastore and cache connections
func (app *Application) Close() {
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close cache")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close storage")
		}
	}
}

func initLogger(cfg config.LoggingConfig) error {
	return utils.InitLogger(cfg.Level, cfg.Format, cfg.Output, cfg.File)
}

func runMigrations(cfg config.DatabaseConfig) error {
	migrator, err := storage.NewMigrator(cfg.URL, cfg.MigrationsTable)
	if err != nil {
		return err
	}
	defer migrator.Close()

	_, err = migrator.Up()
	return err
}
