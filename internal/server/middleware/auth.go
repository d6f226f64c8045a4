package middleware

import (
	"net/http"

	"github.com/Smart-Samurai/Krapi-sub010/internal/handler"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// Authenticate resolves the Authorization bearer token through guard and
// attaches the resulting AuthContext to the request context. Requests
// without a usable session get a 401 envelope; store outages get a 503.
func Authenticate(guard *service.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx, err := guard.Authenticate(r.Context(), handler.BearerToken(r))
			if err != nil {
				handler.WriteServiceError(w, r, err)
				return
			}
			ctx := service.WithAuthContext(r.Context(), actx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects callers whose session lacks scope. It must be used
// after Authenticate in the middleware chain.
func RequireScope(guard *service.Guard, scope model.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := guard.RequireScope(service.AuthContextFrom(r.Context()), scope); err != nil {
				handler.WriteServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
