package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const serviceName = "gatehouse"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the configured backends. Nil backends are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Options tunes the session endpoints. TrustedProxies lists the peers allowed
// to report the client address through X-Forwarded-For; when empty the header
// is ignored.
type Options struct {
	CookieName     string
	CookieSecure   bool
	TrustedProxies []netip.Prefix
	LoginRate      float64
	LoginBurst     int
}

func (o Options) withDefaults() Options {
	if o.CookieName == "" {
		o.CookieName = "authid"
	}
	if o.LoginRate <= 0 {
		o.LoginRate = 5
	}
	if o.LoginBurst <= 0 {
		o.LoginBurst = 10
	}
	return o
}

// API is the HTTP layer over the session service.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string

	svc       *auth.Service
	validator *auth.Validator
	sessions  auth.SessionStore
	opts      Options
}

func New(rp readinessChecker, version string, svc *auth.Service, validator *auth.Validator, sessions auth.SessionStore, opts Options) (*API, error) {
	if svc == nil || validator == nil || sessions == nil {
		return nil, errors.New("httpapi: service, validator and session store are required")
	}
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		validator:  validator,
		sessions:   sessions,
		opts:       opts.withDefaults(),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	live := a.RequireSession(auth.NoAttributes{})
	admin := a.RequireSession(auth.RoleAttributes("admin"))

	a.mux.Handle("/v1/sessions", a.sessionsRoot(live))
	a.mux.Handle("/v1/sessions/current", live(http.HandlerFunc(a.handleCurrentSession)))
	a.mux.Handle("/v1/sessions/remember",
		RateLimit(http.HandlerFunc(a.handleResume), a.opts.LoginBurst, a.opts.LoginRate, a.opts.TrustedProxies))
	a.mux.Handle("/v1/admin/sessions", admin(http.HandlerFunc(a.handleAdminSessions)))
	a.mux.Handle("/v1/admin/sessions/purge", admin(http.HandlerFunc(a.handlePurge)))
	a.mux.Handle("/v1/admin/policy", admin(http.HandlerFunc(a.handlePolicy)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(LoggingJSON(SecurityHeaders(CORS(a.mux)))))
}

// sessionsRoot routes POST (login, rate limited) and DELETE (logout, needs a live session).
func (a *API) sessionsRoot(live func(http.Handler) http.Handler) http.Handler {
	login := RateLimit(http.HandlerFunc(a.handleLogin), a.opts.LoginBurst, a.opts.LoginRate, a.opts.TrustedProxies)
	logout := live(http.HandlerFunc(a.handleLogout))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			login.ServeHTTP(w, r)
		case http.MethodDelete:
			logout.ServeHTTP(w, r)
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		}
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
