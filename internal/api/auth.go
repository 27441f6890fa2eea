package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// AdminTokenHeader carries the admin token when no Authorization header is
// set.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards mutating endpoints with a shared token. An empty token
// disables the guarded routes entirely.
type AdminAuth struct {
	token string
}

func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Enabled reports whether a token is configured.
func (a *AdminAuth) Enabled() bool {
	return a.token != ""
}

// Middleware rejects requests without the admin token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeError(w, "admin endpoints are disabled", http.StatusForbidden)
			return
		}
		if !constantTimeEqual(requestToken(r), a.token) {
			RecordConnectionRejected("auth")
			log.Warn().Str("ip", GetClientIP(r)).Str("path", r.URL.Path).Msg("admin request rejected")
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(AdminTokenHeader))
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
