package auth

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/internal/notification"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// One-shot token kinds
const (
	KindEmailVerification = "email_verification"
	KindPasswordReset     = "password_reset"
)

const maxUsernameLength = 150

// Precision of the users.spending_limit column
const (
	spendingLimitDigits = 12
	spendingLimitPlaces = 2
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// ErrInvalidCredentials is returned for any failed login
var ErrInvalidCredentials = utils.NewAppError(utils.ErrCodeUnauthorized, "Invalid credentials")

// Store is the user persistence auth needs
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// TokenStore keeps one-shot tokens with an expiry
type TokenStore interface {
	PutToken(ctx context.Context, kind, token, value string, ttl time.Duration) error
	ConsumeToken(ctx context.Context, kind, token string) (string, error)
}

// Notifier delivers outgoing mail
type Notifier interface {
	Notify(ctx context.Context, msg *notification.Message) error
}

// RegisterInput is the registration payload
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput accepts either a username or an e-mail address
type LoginInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login
type LoginResponse struct {
	TokenPair
	User models.UserSummary `json:"user"`
}

// Service implements accounts, login and one-shot account tokens
type Service struct {
	config   config.AuthConfig
	store    Store
	tokens   *TokenManager
	oneShot  TokenStore
	notifier Notifier
	logger   *logrus.Entry
}

// NewService creates a new auth service
func NewService(cfg config.AuthConfig, store Store, tokens *TokenManager, oneShot TokenStore, notifier Notifier) *Service {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = time.Hour
	}
	return &Service{
		config:   cfg,
		store:    store,
		tokens:   tokens,
		oneShot:  oneShot,
		notifier: notifier,
		logger:   utils.Component("auth"),
	}
}

// Tokens returns the token manager
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

func validateUsername(username string) error {
	switch {
	case username == "":
		return utils.FieldError("username", "This field is required.")
	case len(username) > maxUsernameLength:
		return utils.FieldError("username", "Ensure this field has no more than 150 characters.")
	case !usernamePattern.MatchString(username):
		return utils.FieldError("username",
			"Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return utils.FieldError("email", "This field is required.")
	}
	if !notification.IsValidEmail(email) {
		return utils.FieldError("email", "Enter a valid email address.")
	}
	return nil
}

// Register creates an inactive account and sends the verification mail
func (s *Service) Register(ctx context.Context, in *RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:         in.Username,
		Email:            in.Email,
		PasswordHash:     hash,
		WarningThreshold: models.DefaultWarningThreshold,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username})
	logger.Info("User registered")

	if err := s.sendVerification(ctx, user); err != nil {
		logger.WithError(err).Warn("Failed to send verification mail")
	}
	return user, nil
}

// Login checks the credentials and issues a token pair. Inactive accounts
// cannot log in.
func (s *Service) Login(ctx context.Context, in *LoginInput) (*LoginResponse, error) {
	identifier := strings.TrimSpace(in.Username)
	if identifier == "" {
		identifier = strings.TrimSpace(in.Email)
	}
	if identifier == "" || in.Password == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Username/email and password required")
	}

	// Usernames may contain "@", so the username wins over the e-mail.
	user, err := s.store.GetUserByUsername(ctx, identifier)
	if utils.IsCode(err, utils.ErrCodeNotFound) && strings.Contains(identifier, "@") {
		user, err = s.store.GetUserByEmail(ctx, identifier)
	}
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !CheckPassword(user.PasswordHash, in.Password) || !user.IsActive {
		s.logger.WithField("user_id", user.ID).Info("Login rejected")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{TokenPair: *pair, User: user.Summary()}, nil
}

// Refresh exchanges a refresh token for a new access token
func (s *Service) Refresh(ctx context.Context, refresh string) (string, error) {
	if refresh == "" {
		return "", utils.FieldError("refresh", "This field is required.")
	}

	userID, err := s.tokens.Parse(refresh, TokenRefresh)
	if err != nil {
		return "", err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil || !user.IsActive {
		return "", ErrInvalidToken
	}

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return "", err
	}
	return pair.Access, nil
}

// Authenticate resolves an access token to an active user id
func (s *Service) Authenticate(ctx context.Context, access string) (int64, error) {
	userID, err := s.tokens.Parse(access, TokenAccess)
	if err != nil {
		return 0, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil || !user.IsActive {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// ListUsers returns every account
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*models.User{}
	}
	return users, nil
}

// Profile returns the user's own account
func (s *Service) Profile(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// UpdateProfile applies the non-nil fields of update
func (s *Service) UpdateProfile(ctx context.Context, userID int64, update *models.ProfileUpdate) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		user.Email = email
	}

	switch {
	case update.ClearSpendingLimit:
		user.SpendingLimit = nil
	case update.SpendingLimit != nil:
		limit := *update.SpendingLimit
		if limit.IsNegative() {
			return nil, utils.FieldError("spending_limit", "Ensure this value is greater than or equal to 0.")
		}
		if err := utils.CheckDecimal("spending_limit", limit, spendingLimitDigits, spendingLimitPlaces); err != nil {
			return nil, err
		}
		user.SpendingLimit = &limit
	}

	if update.WarningThreshold != nil {
		threshold := *update.WarningThreshold
		if threshold.LessThan(decimal.NewFromInt(1)) || threshold.GreaterThan(decimal.NewFromInt(100)) {
			return nil, utils.FieldError("warning_threshold", "Ensure this value is between 1 and 100.")
		}
		user.WarningThreshold = threshold
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", userID).Info("Profile updated")
	return user, nil
}

// DeleteAccount removes the user and everything they own
func (s *Service) DeleteAccount(ctx context.Context, userID int64) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.WithField("user_id", userID).Info("User deleted")
	return nil
}

func (s *Service) link(path, token string) string {
	base, err := url.Parse(s.config.FrontendURL)
	if err != nil || base.Host == "" {
		base = &url.URL{Scheme: "http", Host: "localhost:8000"}
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	base.RawQuery = url.Values{"token": {token}}.Encode()
	return base.String()
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return strconv.Itoa(hours) + " hours"
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}

func (s *Service) issueOneShot(ctx context.Context, kind string, userID int64, ttl time.Duration) (string, error) {
	token, err := utils.GenerateToken()
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeInternal, "Failed to generate token", err.Error())
	}
	if err := s.oneShot.PutToken(ctx, kind, token, strconv.FormatInt(userID, 10), ttl); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) consumeOneShot(ctx context.Context, kind, token string) (*models.User, error) {
	if token == "" {
		return nil, utils.FieldError("token", "This field is required.")
	}
	value, err := s.oneShot.ConsumeToken(ctx, kind, token)
	if err != nil {
		return nil, err
	}
	userID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid or expired token")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid or expired token")
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) sendVerification(ctx context.Context, user *models.User) error {
	if s.notifier == nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Mail is not configured")
	}
	token, err := s.issueOneShot(ctx, KindEmailVerification, user.ID, s.config.VerificationTTL)
	if err != nil {
		return err
	}
	msg, err := notification.VerificationEmail(user.Username, user.Email,
		s.link("/verify-email/", token), humanDuration(s.config.VerificationTTL))
	if err != nil {
		return err
	}
	return s.notifier.Notify(ctx, msg)
}

// SendVerification mails a new verification link. Unknown addresses are
// accepted silently so the endpoint does not reveal which accounts exist.
func (s *Service) SendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil
		}
		return err
	}
	if user.IsActive {
		return utils.NewAppError(utils.ErrCodeValidation, "Email is already verified", "email")
	}
	return s.sendVerification(ctx, user)
}

// ConfirmEmail activates the account the token was issued for
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*models.User, error) {
	user, err := s.consumeOneShot(ctx, KindEmailVerification, token)
	if err != nil {
		return nil, err
	}
	if user.IsActive {
		return user, nil
	}

	user.IsActive = true
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("Email verified")
	return user, nil
}

// RequestPasswordReset mails a password reset link. Unknown addresses are
// accepted silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeNotFound) {
			return nil
		}
		return err
	}
	if s.notifier == nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Mail is not configured")
	}

	token, err := s.issueOneShot(ctx, KindPasswordReset, user.ID, s.config.PasswordResetTTL)
	if err != nil {
		return err
	}
	msg, err := notification.PasswordResetEmail(user.Username, user.Email,
		s.link("/reset-password/", token), humanDuration(s.config.PasswordResetTTL))
	if err != nil {
		return err
	}
	return s.notifier.Notify(ctx, msg)
}

// ResetPassword sets a new password using a reset token
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	user, err := s.consumeOneShot(ctx, KindPasswordReset, token)
	if err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	s.logger.WithField("user_id", user.ID).Info("Password reset")
	return nil
}
