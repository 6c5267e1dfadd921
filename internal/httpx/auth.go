package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/auth"
)

// TokenValidator is satisfied by *auth.Tokens.
type TokenValidator interface {
	Validate(raw string) (auth.Principal, error)
}

// RequireBearer rejects requests without a valid bearer token and stores the
// caller's principal in the request context.
func RequireBearer(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				unauthorized(w, "invalid_request", "missing bearer token")
				return
			}
			p, err := v.Validate(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid_token", "invalid jwt")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func unauthorized(w http.ResponseWriter, code, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": code, "error_description": desc})
}
