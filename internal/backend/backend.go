// Package backend opens the stores selected by the configuration.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/store/pg"
)

// Backends holds the opened connections and the stores built on them.
type Backends struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Policy   *auth.Policy
	Sessions auth.SessionStore
	Users    auth.CredentialsStore
}

// Open connects to PostgreSQL when a DSN is configured and to Redis when the
// redis session backend is selected. Credentials live in PostgreSQL when
// available and in memory otherwise.
func Open(ctx context.Context, cfg config.Config) (*Backends, error) {
	b := &Backends{Policy: auth.NewPolicy(cfg.Session.Duration)}
	b.Policy.SetRestrictHostIP(cfg.Session.RestrictHostIP)

	if cfg.Postgres.DSN != "" {
		pool := pg.DefaultPool()
		if cfg.Postgres.MaxOpenConns > 0 {
			pool.MaxOpenConns = cfg.Postgres.MaxOpenConns
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			pool.MaxIdleConns = cfg.Postgres.MaxIdleConns
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			pool.ConnMaxLifetime = cfg.Postgres.ConnMaxLifetime
		}
		db, err := pg.Open(ctx, cfg.Postgres.DSN, pool)
		if err != nil {
			return nil, err
		}
		b.DB = db
	}

	if cfg.Session.Backend == config.BackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			b.Close()
			return nil, fmt.Errorf("backend: redis ping: %w", err)
		}
		b.Redis = rdb
	}

	var err error
	switch cfg.Session.Backend {
	case config.BackendPostgres:
		if b.DB == nil {
			err = errors.New("backend: postgres session backend needs a DSN")
			break
		}
		b.Sessions, err = auth.NewPGSessions(b.DB, b.Policy)
	case config.BackendRedis:
		b.Sessions, err = auth.NewRedisSessions(b.Redis, cfg.Redis.Prefix, b.Policy)
	case config.BackendMemory:
		b.Sessions = auth.NewMemorySessions(b.Policy)
	default:
		err = fmt.Errorf("backend: unknown session backend %q", cfg.Session.Backend)
	}
	if err != nil {
		b.Close()
		return nil, err
	}

	if cfg.UsersInPostgres() {
		if b.Users, err = auth.NewPGUsers(b.DB); err != nil {
			b.Close()
			return nil, err
		}
	} else {
		b.Users = auth.NewMemoryUsers()
	}
	return b, nil
}

// Persistent reports whether the stores outlive the process.
func (b *Backends) Persistent() bool {
	_, memSessions := b.Sessions.(*auth.MemorySessions)
	_, memUsers := b.Users.(*auth.MemoryUsers)
	return !memSessions && !memUsers
}

// Close releases the connections. It is safe on a partially opened value.
func (b *Backends) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.DB != nil {
		_ = b.DB.Close()
	}
}
