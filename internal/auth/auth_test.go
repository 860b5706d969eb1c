package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/financial-tracker/internal/cache"
	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/internal/notification"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[int64]*models.User)}
}

func (m *memUsers) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return utils.NewAppError(utils.ErrCodeConflict, "A user with that username already exists", "username")
		}
		if strings.EqualFold(u.Email, user.Email) {
			return utils.NewAppError(utils.ErrCodeConflict, "User with this email already exists", "email")
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.DateJoined = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, utils.NewAppError(utils.ErrCodeNotFound, "User not found")
}

func (m *memUsers) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Username == username })
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *memUsers) ListUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUsers) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return utils.NewAppError(utils.ErrCodeNotFound, "User not found")
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return utils.NewAppError(utils.ErrCodeNotFound, "User not found")
	}
	delete(m.users, id)
	return nil
}

type outbox struct {
	mu   sync.Mutex
	sent []*notification.Message
}

func (o *outbox) Notify(ctx context.Context, msg *notification.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last() *notification.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return nil
	}
	return o.sent[len(o.sent)-1]
}

var tokenInLink = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func tokenFrom(t *testing.T, msg *notification.Message) string {
	t.Helper()
	require.NotNil(t, msg)
	match := tokenInLink.FindStringSubmatch(msg.Body)
	require.Len(t, match, 2, "no token link in %q", msg.Body)
	return match[1]
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:        "test-secret",
		AccessTokenTTL:   5 * time.Minute,
		RefreshTokenTTL:  24 * time.Hour,
		VerificationTTL:  24 * time.Hour,
		PasswordResetTTL: time.Hour,
		FrontendURL:      "http://tracker.test",
	}
}

type fixture struct {
	svc    *Service
	store  *memUsers
	mail   *outbox
	redis  *miniredis.Miniredis
	tokens *TokenManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := cache.New(config.CacheConfig{URL: "redis://" + srv.Addr() + "/0", KeyPrefix: "test:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	tm, err := NewTokenManager(testAuthConfig())
	require.NoError(t, err)

	store := newMemUsers()
	mail := &outbox{}
	return &fixture{
		svc:    NewService(testAuthConfig(), store, tm, c, mail),
		store:  store,
		mail:   mail,
		redis:  srv,
		tokens: tm,
	}
}

func (f *fixture) activeUser(t *testing.T, username, email, password string) *models.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), &RegisterInput{Username: username, Email: email, Password: password})
	require.NoError(t, err)
	_, err = f.svc.ConfirmEmail(context.Background(), tokenFrom(t, f.mail.last()))
	require.NoError(t, err)
	return user
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
	assert.False(t, CheckPassword("not-a-hash", "correct horse"))

	assert.True(t, utils.IsCode(ValidatePassword(""), utils.ErrCodeValidation))
	assert.True(t, utils.IsCode(ValidatePassword("short"), utils.ErrCodeValidation))
	assert.True(t, utils.IsCode(ValidatePassword(strings.Repeat("x", 73)), utils.ErrCodeValidation))
	assert.NoError(t, ValidatePassword("long enough"))
}

func TestTokenManager(t *testing.T) {
	_, err := NewTokenManager(config.AuthConfig{})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))

	tm, err := NewTokenManager(testAuthConfig())
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return start }

	pair, err := tm.Issue(&models.User{ID: 42})
	require.NoError(t, err)

	id, err := tm.Parse(pair.Access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = tm.Parse(pair.Refresh, TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	// Types are not interchangeable
	_, err = tm.Parse(pair.Refresh, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Access expires after five minutes, refresh does not
	tm.now = func() time.Time { return start.Add(6 * time.Minute) }
	_, err = tm.Parse(pair.Access, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tm.Parse(pair.Refresh, TokenRefresh)
	assert.NoError(t, err)

	other, err := NewTokenManager(config.AuthConfig{JWTSecret: "other"})
	require.NoError(t, err)
	other.now = tm.now
	_, err = other.Parse(pair.Refresh, TokenRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tm.Parse("garbage", TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegisterCreatesInactiveUserAndMailsLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, &RegisterInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.False(t, user.IsActive)
	assert.False(t, user.IsStaff)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	msg := f.mail.last()
	require.NotNil(t, msg)
	assert.Equal(t, notification.KindVerification, msg.Kind)
	assert.Equal(t, []string{"alice@example.com"}, msg.To)
	assert.Contains(t, msg.Body, "http://tracker.test/verify-email/?token=")
	assert.Contains(t, msg.Body, "24 hours")

	token := tokenFrom(t, msg)
	assert.Equal(t, 24*time.Hour, f.redis.TTL("test:token:"+KindEmailVerification+":"+token))

	_, err = f.svc.Register(ctx, &RegisterInput{Username: "alice", Email: "other@example.com", Password: "s3cret-pass"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConflict))

	_, err = f.svc.Register(ctx, &RegisterInput{Username: "bad name", Email: "b@example.com", Password: "s3cret-pass"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	_, err = f.svc.Register(ctx, &RegisterInput{Username: "bob", Email: "not-an-email", Password: "s3cret-pass"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func TestLoginRequiresVerifiedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &RegisterInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, &LoginInput{Username: "alice", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	user, err := f.svc.ConfirmEmail(ctx, tokenFrom(t, f.mail.last()))
	require.NoError(t, err)
	assert.True(t, user.IsActive)

	resp, err := f.svc.Login(ctx, &LoginInput{Username: "alice", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Access)
	assert.NotEmpty(t, resp.Refresh)
	assert.Equal(t, "alice", resp.User.Username)

	// E-mail works as the identifier, in either field
	_, err = f.svc.Login(ctx, &LoginInput{Username: "ALICE@example.com", Password: "s3cret-pass"})
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, &LoginInput{Email: "alice@example.com", Password: "s3cret-pass"})
	assert.NoError(t, err)

	_, err = f.svc.Login(ctx, &LoginInput{Username: "alice", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, &LoginInput{Username: "nobody", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, &LoginInput{Username: "alice"})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
	assert.Contains(t, err.Error(), "Username/email and password required")
}

func TestVerificationTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &RegisterInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	token := tokenFrom(t, f.mail.last())

	_, err = f.svc.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	_, err = f.svc.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, cache.ErrTokenNotFound)

	_, err = f.svc.ConfirmEmail(ctx, "")
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func TestSendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &RegisterInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	first := tokenFrom(t, f.mail.last())

	require.NoError(t, f.svc.SendVerification(ctx, "alice@example.com"))
	second := tokenFrom(t, f.mail.last())
	assert.NotEqual(t, first, second)

	// Unknown addresses are not revealed
	before := len(f.mail.sent)
	require.NoError(t, f.svc.SendVerification(ctx, "ghost@example.com"))
	assert.Len(t, f.mail.sent, before)

	_, err = f.svc.ConfirmEmail(ctx, second)
	require.NoError(t, err)
	err = f.svc.SendVerification(ctx, "alice@example.com")
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))
}

func TestTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &RegisterInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	token := tokenFrom(t, f.mail.last())

	f.redis.FastForward(25 * time.Hour)
	_, err = f.svc.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, cache.ErrTokenNotFound)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeUser(t, "alice", "alice@example.com", "s3cret-pass")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))
	msg := f.mail.last()
	assert.Equal(t, notification.KindPasswordReset, msg.Kind)
	assert.Contains(t, msg.Body, "http://tracker.test/reset-password/?token=")
	assert.Contains(t, msg.Body, "1 hour")
	token := tokenFrom(t, msg)

	err := f.svc.ResetPassword(ctx, token, "short")
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	require.NoError(t, f.svc.ResetPassword(ctx, token, "brand-new-pass"))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "another-pass"), cache.ErrTokenNotFound)

	_, err = f.svc.Login(ctx, &LoginInput{Username: "alice", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, &LoginInput{Username: "alice", Password: "brand-new-pass"})
	assert.NoError(t, err)

	before := len(f.mail.sent)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ghost@example.com"))
	assert.Len(t, f.mail.sent, before)
}

func TestRefreshAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.activeUser(t, "alice", "alice@example.com", "s3cret-pass")

	resp, err := f.svc.Login(ctx, &LoginInput{Username: "alice", Password: "s3cret-pass"})
	require.NoError(t, err)

	access, err := f.svc.Refresh(ctx, resp.Refresh)
	require.NoError(t, err)
	id, err := f.svc.Authenticate(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	_, err = f.svc.Refresh(ctx, resp.Access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID))
	_, err = f.svc.Authenticate(ctx, access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, resp.Refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.activeUser(t, "alice", "alice@example.com", "s3cret-pass")

	limit := decimal.RequireFromString("5000.00")
	threshold := decimal.NewFromInt(90)
	email := "alice@new.example.com"
	updated, err := f.svc.UpdateProfile(ctx, user.ID, &models.ProfileUpdate{
		Email:            &email,
		SpendingLimit:    &limit,
		WarningThreshold: &threshold,
	})
	require.NoError(t, err)
	assert.Equal(t, email, updated.Email)
	require.NotNil(t, updated.SpendingLimit)
	assert.True(t, limit.Equal(*updated.SpendingLimit))
	assert.True(t, threshold.Equal(updated.WarningThreshold))

	updated, err = f.svc.UpdateProfile(ctx, user.ID, &models.ProfileUpdate{ClearSpendingLimit: true})
	require.NoError(t, err)
	assert.Nil(t, updated.SpendingLimit)

	negative := decimal.NewFromInt(-1)
	_, err = f.svc.UpdateProfile(ctx, user.ID, &models.ProfileUpdate{SpendingLimit: &negative})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	precise := decimal.RequireFromString("10.123")
	_, err = f.svc.UpdateProfile(ctx, user.ID, &models.ProfileUpdate{SpendingLimit: &precise})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	tooHigh := decimal.NewFromInt(101)
	_, err = f.svc.UpdateProfile(ctx, user.ID, &models.ProfileUpdate{WarningThreshold: &tooHigh})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	users, err := f.svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t)
	user := f.activeUser(t, "alice", "alice@example.com", "s3cret-pass")
	resp, err := f.svc.Login(context.Background(), &LoginInput{Username: "alice", Password: "s3cret-pass"})
	require.NoError(t, err)

	var seen int64
	handler := Middleware(f.svc, func(w http.ResponseWriter, err error) {
		w.WriteHeader(utils.HTTPStatus(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + resp.Access, http.StatusUnauthorized},
		{"refresh token", "Bearer " + resp.Refresh, http.StatusUnauthorized},
		{"valid", "Bearer " + resp.Access, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/main/balance/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, user.ID, seen)
}
