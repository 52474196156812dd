package api

import (
	"net/http"

	"antiddos/internal/gate"
	"antiddos/internal/models"
)

// AdminSessionCookie carries an admin API key for browser sessions on the
// protected site, so logged-in operators are never rate limited.
const AdminSessionCookie = "admin_session"

// OperatorDetector returns the predicate the gate uses to exempt operators: a
// request is from an operator when it presents an enabled key with the admin
// permission, either as a Bearer token or in the admin_session cookie. With
// authentication disabled there are no operators.
func OperatorDetector(cfg models.SecurityConfig) gate.OperatorFunc {
	if !cfg.EnableAuth {
		return func(*http.Request) bool { return false }
	}
	keys := NewKeyring(cfg.APIKeys)

	return func(r *http.Request) bool {
		if token, ok := bearerToken(r); ok {
			if key, ok := keys.Lookup(token); ok && key.HasPermission(models.PermissionAdmin) {
				return true
			}
		}
		cookie, err := r.Cookie(AdminSessionCookie)
		if err != nil || cookie.Value == "" {
			return false
		}
		key, ok := keys.Lookup(cookie.Value)
		return ok && key.HasPermission(models.PermissionAdmin)
	}
}
