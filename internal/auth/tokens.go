package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Token types
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// ErrInvalidToken is returned for any token that fails verification
var ErrInvalidToken = utils.NewAppError(utils.ErrCodeUnauthorized, "Token is invalid or expired")

// Claims are the JWT claims issued by the tracker
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is returned on login and refresh
type TokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// TokenManager issues and verifies HS256 tokens
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager creates a token manager from the auth configuration
func NewTokenManager(cfg config.AuthConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "JWT secret is not configured")
	}

	tm := &TokenManager{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        time.Now,
	}
	if tm.accessTTL <= 0 {
		tm.accessTTL = 5 * time.Minute
	}
	if tm.refreshTTL <= 0 {
		tm.refreshTTL = 24 * time.Hour
	}
	return tm, nil
}

func (tm *TokenManager) sign(userID int64, tokenType string, ttl time.Duration) (string, error) {
	now := tm.now()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeInternal, "Failed to sign token", err.Error())
	}
	return signed, nil
}

// Issue returns a fresh access and refresh token for user
func (tm *TokenManager) Issue(user *models.User) (*TokenPair, error) {
	access, err := tm.sign(user.ID, TokenAccess, tm.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := tm.sign(user.ID, TokenRefresh, tm.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Refresh: refresh, Access: access}, nil
}

// Parse verifies token and returns the user id it was issued for. The token
// must be of the expected type.
func (tm *TokenManager) Parse(token, tokenType string) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	if err != nil || claims.TokenType != tokenType {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// AccessTTL returns the lifetime of access tokens
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}
