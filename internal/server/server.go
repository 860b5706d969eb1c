// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/auth"
	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/currency"
	"github.com/smartdevs17/financial-tracker/internal/ledger"
	"github.com/smartdevs17/financial-tracker/internal/metrics"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Accounts is the account API behind /api/auth
type Accounts interface {
	auth.Authenticator
	Register(ctx context.Context, in *auth.RegisterInput) (*models.User, error)
	Login(ctx context.Context, in *auth.LoginInput) (*auth.LoginResponse, error)
	Refresh(ctx context.Context, refresh string) (string, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	Profile(ctx context.Context, userID int64) (*models.User, error)
	UpdateProfile(ctx context.Context, userID int64, update *models.ProfileUpdate) (*models.User, error)
	DeleteAccount(ctx context.Context, userID int64) error
	SendVerification(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, token string) (*models.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// Ledger is the bookkeeping API behind /api/main
type Ledger interface {
	CreateTransaction(ctx context.Context, userID int64, in *ledger.TransactionInput) (*ledger.TransactionView, error)
	GetTransaction(ctx context.Context, userID, id int64) (*ledger.TransactionView, error)
	ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]models.TransactionListItem, error)
	UpdateTransaction(ctx context.Context, userID, id int64, in *ledger.TransactionInput, partial bool) (*ledger.TransactionView, error)
	DeleteTransaction(ctx context.Context, userID, id int64) error

	ListCategories(ctx context.Context, userID int64) ([]*models.Category, error)
	GetCategory(ctx context.Context, userID, id int64) (*models.Category, error)
	CreateCategory(ctx context.Context, userID int64, in *ledger.CategoryInput) (*models.Category, error)
	UpdateCategory(ctx context.Context, userID, id int64, in *ledger.CategoryInput, partial bool) (*models.Category, error)
	DeleteCategory(ctx context.Context, userID, id int64) error

	GetBalance(ctx context.Context, userID int64) (*models.BalanceDetail, bool, error)
	ResetBalance(ctx context.Context, userID int64) (*models.BalanceDetail, error)
	AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal, reason string) (*models.BalanceDetail, error)
}

// Currencies is the exchange rate API behind /api/main/currency
type Currencies interface {
	List(ctx context.Context) ([]*models.Currency, error)
	Get(ctx context.Context, code string) (*models.Currency, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*currency.Conversion, error)
	UpdateDatabase(ctx context.Context) (*currency.UpdateResult, error)
}

// HealthCheck probes one component
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the HTTP server exposes
type Dependencies struct {
	Accounts       Accounts
	Ledger         Ledger
	Currencies     Currencies
	HealthChecks   map[string]HealthCheck
	StaticRoot     string
	Version        string
	MetricsManager *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         config.ServerConfig
	server         *http.Server
	router         *mux.Router
	accounts       Accounts
	ledger         Ledger
	currencies     Currencies
	healthChecks   map[string]HealthCheck
	staticRoot     string
	version        string
	limiter        *RateLimiter
	metricsManager *metrics.Manager
	logger         *logrus.Entry
	startTime      time.Time
	listener       net.Listener
	errs           chan error
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg config.ServerConfig, deps Dependencies) (*HTTPServer, error) {
	if deps.Accounts == nil || deps.Ledger == nil || deps.Currencies == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server is missing a service")
	}

	s := &HTTPServer{
		config:         cfg,
		accounts:       deps.Accounts,
		ledger:         deps.Ledger,
		currencies:     deps.Currencies,
		healthChecks:   deps.HealthChecks,
		staticRoot:     deps.StaticRoot,
		version:        deps.Version,
		metricsManager: deps.MetricsManager,
		logger:         utils.Component("http"),
		startTime:      time.Now(),
		errs:           make(chan error, 1),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, utils.NewAppError(utils.ErrCodeNotFound, "Not found."))
	})

	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware(s.writeError))
	}

	if s.config.EnableHealth {
		s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods(http.MethodGet)
	}
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	if s.staticRoot != "" {
		s.router.PathPrefix("/static/").Handler(
			http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticRoot))))
	}

	requireAuth := auth.Middleware(s.accounts, s.writeError)

	// Accounts
	public := s.router.PathPrefix("/api/auth").Subrouter()
	public.HandleFunc("/register/", s.registerHandler).Methods(http.MethodPost)
	public.HandleFunc("/login/", s.loginHandler).Methods(http.MethodPost)
	public.HandleFunc("/token/refresh/", s.refreshHandler).Methods(http.MethodPost)
	public.HandleFunc("/email_verification_send/", s.sendVerificationHandler).Methods(http.MethodPost)
	public.HandleFunc("/email_verification_confirm/", s.confirmEmailHandler).Methods(http.MethodPost, http.MethodGet)
	public.HandleFunc("/password_reset_request/", s.passwordResetRequestHandler).Methods(http.MethodPost)
	public.HandleFunc("/password_reset_confirm/", s.passwordResetConfirmHandler).Methods(http.MethodPost)

	account := s.router.PathPrefix("/api/auth").Subrouter()
	account.Use(requireAuth)
	account.HandleFunc("/users/", s.listUsersHandler).Methods(http.MethodGet)
	account.HandleFunc("/profile/", s.profileHandler).Methods(http.MethodGet)
	account.HandleFunc("/profile/", s.updateProfileHandler).Methods(http.MethodPut, http.MethodPatch)
	account.HandleFunc("/delete/", s.deleteAccountHandler).Methods(http.MethodDelete)

	// Ledger and currencies
	api := s.router.PathPrefix("/api/main").Subrouter()
	api.Use(requireAuth)
	api.HandleFunc("/transaction/", s.listTransactionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/transaction/", s.createTransactionHandler).Methods(http.MethodPost)
	api.HandleFunc("/transaction/{id:[0-9]+}/", s.getTransactionHandler).Methods(http.MethodGet)
	api.HandleFunc("/transaction/{id:[0-9]+}/", s.updateTransactionHandler).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/transaction/{id:[0-9]+}/", s.deleteTransactionHandler).Methods(http.MethodDelete)

	api.HandleFunc("/category/", s.listCategoriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/category/", s.createCategoryHandler).Methods(http.MethodPost)
	api.HandleFunc("/category/{id:[0-9]+}/", s.getCategoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/category/{id:[0-9]+}/", s.updateCategoryHandler).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/category/{id:[0-9]+}/", s.deleteCategoryHandler).Methods(http.MethodDelete)

	api.HandleFunc("/balance/", s.balanceHandler).Methods(http.MethodGet)
	api.HandleFunc("/balance_reset/", s.balanceResetHandler).Methods(http.MethodPost)
	api.HandleFunc("/balance_manual/", s.balanceAdjustHandler).Methods(http.MethodPost)

	api.HandleFunc("/currency/", s.listCurrenciesHandler).Methods(http.MethodGet)
	api.HandleFunc("/currency/", s.refreshCurrenciesHandler).Methods(http.MethodPost)
	api.HandleFunc("/currency_conversion/", s.convertHandler).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/currency/{code}/", s.getCurrencyHandler).Methods(http.MethodGet)
}

// Handler returns the root handler with panic recovery and CORS applied
func (s *HTTPServer) Handler() http.Handler {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(s.router))
}

// Start starts the HTTP server and returns once it is listening
func (s *HTTPServer) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"rate_limit":      s.config.RateLimit,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth(ctx)
		go s.componentHealthUpdater(ctx)
	}
	if s.limiter != nil {
		go s.limiter.Run(ctx, time.Minute)
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
			s.errs <- err
		}
	}()
	return nil
}

// Errors delivers the error that ended serving. A clean Stop sends nothing.
func (s *HTTPServer) Errors() <-chan error {
	return s.errs
}

// componentHealthUpdater refreshes the component health gauges
func (s *HTTPServer) componentHealthUpdater(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateComponentHealth(ctx)
		}
	}
}

func (s *HTTPServer) updateComponentHealth(ctx context.Context) {
	prom := s.metricsManager.GetPrometheusMetrics()
	for name, err := range s.runHealthChecks(ctx) {
		prom.UpdateComponentHealth(name, err == nil)
	}
}

// Stop gracefully stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Health Handlers

func (s *HTTPServer) runHealthChecks(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results := make(map[string]error, len(s.healthChecks))
	for name, check := range s.healthChecks {
		results[name] = check(ctx)
	}
	return results
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   s.version,
	})
}

// detailedHealthHandler probes every component. Any failure makes the
// response 503.
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	components := make(map[string]interface{})
	for name, err := range s.runHealthChecks(r.Context()) {
		component := map[string]interface{}{"healthy": err == nil}
		if err != nil {
			component["error"] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		components[name] = component
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.version,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"components": components,
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeMessage writes a {"message": ...} body
func (s *HTTPServer) writeMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

// writeError maps err to its HTTP status and writes {"error", "code"}.
// Validation errors name the offending field; internal details are only
// logged.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := utils.HTTPStatus(err)
	code := utils.ErrorCode(err)

	body := map[string]interface{}{"code": code}

	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		body["error"] = appErr.Message
		switch code {
		case utils.ErrCodeValidation:
			if appErr.Details != "" {
				body["field"] = appErr.Details
			}
		case utils.ErrCodeInsufficientFunds:
			body["details"] = appErr.Details
		}
	} else {
		body["error"] = "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("status", status).Error("HTTP error")
	}
	s.writeJSON(w, status, body)
}

const maxBodyBytes = 1 << 20

// readJSON decodes the request body into dest
func readJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Malformed JSON body")
	}
	return nil
}

// pathID parses the {id} route variable
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, utils.NewAppError(utils.ErrCodeNotFound, "Not found.")
	}
	return id, nil
}

// currentUser returns the authenticated user id
func currentUser(r *http.Request) int64 {
	id, _ := auth.UserID(r.Context())
	return id
}
