// Package auth identifies callers on the public surface and guards the
// admin surface. Caller identity arrives in headers from the fronting
// proxy; the admin surface uses basic auth checked against a bcrypt hash.
package auth

import (
	"net/http"
	"strings"

	"github.com/modelgate/modelgate/internal/crypto"
	"github.com/modelgate/modelgate/internal/domain"
)

const (
	headerUserID   = "X-User-ID"
	headerTenantID = "X-Tenant-ID"
	headerKeyID    = "X-API-Key-ID"
)

// CallerFromRequest extracts the caller identity. A missing user id fails
// with AUTH.
func CallerFromRequest(r *http.Request) (domain.Caller, error) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		return domain.Caller{}, domain.NewAuthError("missing " + headerUserID + " header")
	}
	return domain.Caller{
		UserID:   userID,
		TenantID: strings.TrimSpace(r.Header.Get(headerTenantID)),
		APIKeyID: strings.TrimSpace(r.Header.Get(headerKeyID)),
	}, nil
}

// AdminBasicAuth guards next with basic auth. An empty passwordHash
// disables the surface entirely.
func AdminBasicAuth(username, passwordHash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if passwordHash == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != username || !crypto.VerifyPassword(passwordHash, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="modelgate admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
