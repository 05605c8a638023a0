package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserHeader identifies the tenant when no JWT secret is configured.
const UserHeader = "X-User-ID"

var (
	errNoCredentials = errors.New("missing credentials")
	errBadToken      = errors.New("invalid or expired token")
)

type ctxKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the tenant attached by the identify middleware.
func UserID(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok && u != ""
}

// Authenticator resolves the tenant of a request. With a secret it verifies
// an HS256 bearer token and uses its subject; tokens are never issued here.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) userFrom(r *http.Request) (string, error) {
	if len(a.secret) == 0 {
		u := strings.TrimSpace(r.Header.Get(UserHeader))
		if u == "" {
			return "", errNoCredentials
		}
		return u, nil
	}

	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || raw == "" {
		return "", errNoCredentials
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errBadToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errBadToken
	}
	return sub, nil
}

// Middleware rejects requests without a tenant and stores it in the context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.userFrom(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}
