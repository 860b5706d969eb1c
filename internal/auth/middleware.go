package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

type contextKey struct{}

// ErrMissingCredentials is returned when a protected route gets no token
var ErrMissingCredentials = utils.NewAppError(utils.ErrCodeUnauthorized,
	"Authentication credentials were not provided.")

// Authenticator resolves an access token to a user id
type Authenticator interface {
	Authenticate(ctx context.Context, access string) (int64, error)
}

// WithUserID returns a context carrying the authenticated user id
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated user id stored in ctx
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKey{}).(int64)
	return id, ok && id > 0
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware rejects requests without a valid access token and stores the
// user id in the request context. onError writes the rejection.
func Middleware(authenticator Authenticator, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				onError(w, ErrMissingCredentials)
				return
			}

			userID, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
