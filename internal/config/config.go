package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const envPrefix = "GATEHOUSE_"

type Config struct {
	HTTP     HTTPConfig
	GRPCAddr string
	Postgres PostgresConfig
	Redis    RedisConfig
	Session  SessionConfig
	Remember RememberConfig
	Login    LoginConfig
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For hops are believed.
	// Empty by default: the client address is the TCP peer.
	TrustedProxies []netip.Prefix
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type SessionConfig struct {
	Backend        string
	Duration       time.Duration
	RestrictHostIP bool
	CookieName     string
	CookieSecure   bool
}

type RememberConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Enabled reports whether remember-me tokens are configured.
func (r RememberConfig) Enabled() bool { return r.Secret != "" }

type LoginConfig struct {
	RatePerSecond float64
	Burst         int
}

// Load reads GATEHOUSE_* variables, applies defaults and validates the result.
func Load() (Config, error) {
	var errs []string
	r := reader{errs: &errs}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            r.str("HTTP_ADDR", ":8080"),
			ReadTimeout:     r.duration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    r.duration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: r.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustedProxies:  r.prefixes("TRUSTED_PROXIES"),
		},
		GRPCAddr: r.str("GRPC_ADDR", ":9090"),
		Postgres: PostgresConfig{
			DSN:             r.str("PG_DSN", ""),
			MaxOpenConns:    r.integer("PG_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    r.integer("PG_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: r.duration("PG_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", ""),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.integer("REDIS_DB", 0),
			Prefix:   r.str("REDIS_PREFIX", "gatehouse"),
		},
		Session: SessionConfig{
			Backend:        strings.ToLower(r.str("SESSION_BACKEND", "")),
			Duration:       r.duration("SESSION_DURATION", 20*time.Minute),
			RestrictHostIP: r.boolean("RESTRICT_HOST_IP", false),
			CookieName:     r.str("SESSION_COOKIE", "authid"),
			CookieSecure:   r.boolean("SESSION_COOKIE_SECURE", true),
		},
		Remember: RememberConfig{
			Secret: r.str("REMEMBER_SECRET", ""),
			Issuer: r.str("REMEMBER_ISSUER", "gatehouse"),
			TTL:    r.duration("REMEMBER_TTL", 30*24*time.Hour),
		},
		Login: LoginConfig{
			RatePerSecond: r.float("LOGIN_RATE", 5),
			Burst:         r.integer("LOGIN_BURST", 10),
		},
	}

	if cfg.Session.Backend == "" {
		cfg.Session.Backend = BackendMemory
		if cfg.Postgres.DSN != "" {
			cfg.Session.Backend = BackendPostgres
		}
	}

	if cfg.HTTP.Addr == "" {
		errs = append(errs, envPrefix+"HTTP_ADDR must not be empty")
	}
	switch cfg.Session.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			errs = append(errs, envPrefix+"PG_DSN is required for the postgres session backend")
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			errs = append(errs, envPrefix+"REDIS_ADDR is required for the redis session backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("%sSESSION_BACKEND %q is not one of memory, postgres, redis", envPrefix, cfg.Session.Backend))
	}
	if cfg.Session.CookieName == "" {
		errs = append(errs, envPrefix+"SESSION_COOKIE must not be empty")
	}
	if cfg.Remember.Enabled() && cfg.Remember.TTL <= 0 {
		errs = append(errs, envPrefix+"REMEMBER_TTL must be > 0")
	}
	if cfg.Login.RatePerSecond <= 0 || cfg.Login.Burst <= 0 {
		errs = append(errs, envPrefix+"LOGIN_RATE and "+envPrefix+"LOGIN_BURST must be > 0")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// UsersInPostgres reports whether credentials live in PostgreSQL.
func (c Config) UsersInPostgres() bool { return c.Postgres.DSN != "" }

type reader struct {
	errs *[]string
}

func (r reader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(envPrefix + key)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (r reader) str(key, fallback string) string {
	if val, ok := r.lookup(key); ok {
		return val
	}
	return fallback
}

func (r reader) integer(key string, fallback int) int {
	val, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		r.fail(key, val)
		return fallback
	}
	return n
}

func (r reader) float(key string, fallback float64) float64 {
	val, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		r.fail(key, val)
		return fallback
	}
	return f
}

func (r reader) boolean(key string, fallback bool) bool {
	val, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		r.fail(key, val)
		return fallback
	}
	return b
}

// prefixes reads a comma separated list of CIDRs or bare addresses.
func (r reader) prefixes(key string) []netip.Prefix {
	val, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var out []netip.Prefix
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				r.fail(key, item)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			r.fail(key, item)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

// duration accepts Go duration strings or a bare number of seconds.
// Negative values are kept; a negative session duration disables expiry.
func (r reader) duration(key string, fallback time.Duration) time.Duration {
	val, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	r.fail(key, val)
	return fallback
}

func (r reader) fail(key, val string) {
	*r.errs = append(*r.errs, fmt.Sprintf("%s%s: invalid value %q", envPrefix, key, val))
}
