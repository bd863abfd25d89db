package middleware

import (
	"crypto/subtle"
	"net/http"

	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// AdminTokenHeader carries the operator token for recovery endpoints
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken admits requests whose X-Admin-Token equals token
func RequireAdminToken(token string) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(AdminTokenHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				pkghttp.WriteForbidden(w, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
