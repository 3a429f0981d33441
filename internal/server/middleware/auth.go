package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/service"
)

type contextKeyAuth string

// AdminKey is the context key for the authenticated admin.
const AdminKey contextKeyAuth = "auth_admin"

// Authenticate returns an HTTP middleware that validates the Bearer session
// token on admin routes. The JWT must verify and its backing session row
// must still exist. On success the admin is attached to the request context;
// on failure a 401 JSON error is returned.
func Authenticate(auth *service.Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, "Authentication required. Provide a Bearer token.")
				return
			}

			admin, err := auth.Authenticate(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeAuthError(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the authenticated admin from the context. Returns nil
// for unauthenticated requests.
func GetAdmin(ctx context.Context) *model.Admin {
	if a, ok := ctx.Value(AdminKey).(*model.Admin); ok {
		return a
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	// Manually construct JSON to avoid an import cycle with the handler
	// package.
	w.Write([]byte(`{"success":false,"error":"` + message + `"}`))
}
