package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type resumeRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	AuthID            string     `json:"auth_id"`
	UserID            int64      `json:"user_id"`
	RememberToken     string     `json:"remember_token,omitempty"`
	RememberExpiresAt *time.Time `json:"remember_expires_at,omitempty"`
}

type currentResponse struct {
	UserID     int64 `json:"user_id"`
	Remembered bool  `json:"remembered"`
}

type policyRequest struct {
	SessionDuration *string `json:"session_duration"`
	RestrictHostIP  *bool   `json:"restrict_host_ip"`
}

type policyResponse struct {
	SessionDuration string `json:"session_duration"`
	Expires         bool   `json:"expires"`
	RestrictHostIP  bool   `json:"restrict_host_ip"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "login and password are required")
		return
	}

	hostIP := clientIP(r, a.opts.TrustedProxies)
	res, err := a.svc.Login(r.Context(), login, req.Password, hostIP, req.Remember)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"login": login, "host_ip": hostIP})
		}
		handleAuthError(w, r, err)
		return
	}

	ctx := auth.ContextWithUser(r.Context(), res.UserID)
	_ = audit.LogEvent(ctx, audit.EventLogin, map[string]any{
		"host_ip":    hostIP,
		"remembered": req.Remember,
	})
	a.setSessionCookie(w, res.AuthID)
	writeJSON(w, http.StatusCreated, newSessionResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	authID, _ := auth.AuthIDFromContext(r.Context())
	if _, err := a.svc.Logout(r.Context(), authID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	a.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleCurrentSession describes the caller's session on GET and extends
// it on POST.
func (a *API) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	authID, _ := auth.AuthIDFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		ok, err := a.sessions.ContinueSession(r.Context(), authID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if !ok {
			unauthorized(w, r)
			return
		}
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	remembered, err := a.sessions.WasRemembered(r.Context(), authID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentResponse{UserID: userID, Remembered: remembered})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.svc.SupportsRemember() {
		writeError(w, r, http.StatusNotFound, "remember-me is disabled")
		return
	}
	var req resumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	hostIP := clientIP(r, a.opts.TrustedProxies)
	res, err := a.svc.Resume(r.Context(), req.Token, hostIP)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	ctx := auth.ContextWithUser(r.Context(), res.UserID)
	_ = audit.LogEvent(ctx, audit.EventResume, map[string]any{"host_ip": hostIP})
	a.setSessionCookie(w, res.AuthID)
	writeJSON(w, http.StatusCreated, newSessionResponse(res))
}

func (a *API) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		n, err := a.sessions.CountSessions(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"active_sessions": n})
	case http.MethodDelete:
		userID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("user_id")), 10, 64)
		if err != nil || userID < 0 {
			writeError(w, r, http.StatusBadRequest, "user_id must be a non-negative integer")
			return
		}
		n, err := a.svc.LogoutEverywhere(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), audit.EventLogout, map[string]any{"target_user_id": userID, "erased": n})
		writeJSON(w, http.StatusOK, map[string]any{"erased": n})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	n, err := a.sessions.PurgeSessions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPurge, map[string]any{"purged": n})
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}

func (a *API) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req policyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.SessionDuration == nil && req.RestrictHostIP == nil {
			writeError(w, r, http.StatusBadRequest, "nothing to update")
			return
		}
		fields := map[string]any{}
		if req.SessionDuration != nil {
			d, err := time.ParseDuration(strings.TrimSpace(*req.SessionDuration))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "session_duration must be a duration such as 20m")
				return
			}
			a.sessions.SetSessionDuration(d)
			fields["session_duration"] = d.String()
		}
		if req.RestrictHostIP != nil {
			a.sessions.SetRestrictHostIP(*req.RestrictHostIP)
			fields["restrict_host_ip"] = *req.RestrictHostIP
		}
		_ = audit.LogEvent(r.Context(), audit.EventPolicyChanged, fields)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		return
	}
	d := a.sessions.SessionDuration()
	writeJSON(w, http.StatusOK, policyResponse{
		SessionDuration: d.String(),
		Expires:         d >= 0,
		RestrictHostIP:  a.sessions.RestrictHostIP(),
	})
}

func newSessionResponse(res auth.LoginResult) sessionResponse {
	out := sessionResponse{AuthID: res.AuthID, UserID: res.UserID, RememberToken: res.RememberToken}
	if res.RememberToken != "" {
		exp := res.RememberExpiresAt
		out.RememberExpiresAt = &exp
	}
	return out
}

func (a *API) setSessionCookie(w http.ResponseWriter, authID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    authID,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var storage *auth.StorageError
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAuthenticationFailed):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid remember-me token")
	case errors.As(err, &storage):
		obs.Log("error", "session store failure", map[string]any{
			"op":         storage.Op,
			"error":      err.Error(),
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "session store unavailable")
	default:
		obs.Log("error", "request failed", map[string]any{
			"error":      err.Error(),
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
