package middleware

import (
	"context"
	"net/http"

	"github.com/trellispay/trellis/internal/api/httpx"
	"github.com/trellispay/trellis/internal/models"
	"github.com/trellispay/trellis/internal/services"
)

type accountKey struct{}

// ImpersonationHeader carries the optional per-request impersonation key,
// resolved separately from the Basic credentials.
const ImpersonationHeader = "X-Impersonation-Key"

// AccountFrom returns the authenticated account stored by BasicAuth.
func AccountFrom(ctx context.Context) (models.Account, bool) {
	a, ok := ctx.Value(accountKey{}).(models.Account)
	return a, ok
}

// ImpersonationKey extracts the optional impersonation key from the request.
func ImpersonationKey(r *http.Request) string {
	return r.Header.Get(ImpersonationHeader)
}

type AuthMiddleware struct {
	accounts *services.AccountService
}

func NewAuthMiddleware(accounts *services.AccountService) *AuthMiddleware {
	return &AuthMiddleware{accounts: accounts}
}

// BasicAuth resolves the Basic credential pair on every call to an account
// and stores it in the request context.
func (m *AuthMiddleware) BasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, secret, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="trellis"`)
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials", nil)
			return
		}
		a, err := m.accounts.Authenticate(r.Context(), key, secret)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey{}, a)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
