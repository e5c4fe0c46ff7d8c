package httpapi

import (
	"net/http"
	"strings"

	"gatehouse.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// RequireSession validates the request's session against attrs. Denied
// sessions get 401; a validator failure gets 500 so an outage is never
// mistaken for a logout.
func (a *API) RequireSession(attrs auth.SessionAttributes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authID := a.sessionToken(r)
			if authID == "" {
				unauthorized(w, r)
				return
			}
			res, err := a.validator.ValidateSession(r.Context(), authID, clientIP(r, a.opts.TrustedProxies), attrs)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "session validation unavailable")
				return
			}
			if !a.validator.IsAccessAuthorized(res) {
				unauthorized(w, r)
				return
			}
			ctx := auth.ContextWithUser(r.Context(), res.UserID)
			ctx = auth.ContextWithAuthID(ctx, authID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionToken reads the session cookie, falling back to a bearer token.
func (a *API) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(a.opts.CookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, http.StatusUnauthorized, "session invalid")
}
