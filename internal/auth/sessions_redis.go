package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "gatehouse"

var _ SessionStore = (*RedisSessions)(nil)

// RedisSessions implements SessionStore on Redis hashes. Each session lives
// under <prefix>:session:<authid>; <prefix>:sessions and <prefix>:user:<id>
// index the live ids. Keys carry no TTL because the duration can change at
// runtime; expiry stays lazy like the SQL store.
type RedisSessions struct {
	*Policy
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisSessions(rdb redis.UniversalClient, prefix string, policy *Policy) (*RedisSessions, error) {
	if rdb == nil {
		return nil, errors.New("auth: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if policy == nil {
		policy = NewPolicy(DefaultSessionDuration)
	}
	return &RedisSessions{Policy: policy, rdb: rdb, prefix: prefix}, nil
}

func (s *RedisSessions) sessionKey(authID string) string { return s.prefix + ":session:" + authID }
func (s *RedisSessions) userKey(userID int64) string {
	return s.prefix + ":user:" + strconv.FormatInt(userID, 10)
}
func (s *RedisSessions) indexKey() string     { return s.prefix + ":sessions" }
func (s *RedisSessions) installedKey() string { return s.prefix + ":installed" }

func (s *RedisSessions) Install(ctx context.Context) error {
	ok, err := s.rdb.SetNX(ctx, s.installedKey(), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return storageErr("install sessions", err)
	}
	if !ok {
		return storageErr("install sessions", ErrAlreadyInstalled)
	}
	return nil
}

func (s *RedisSessions) Remove(ctx context.Context) error {
	if _, err := s.deleteMatching(ctx, s.prefix+":*"); err != nil {
		return storageErr("remove sessions", err)
	}
	return nil
}

func (s *RedisSessions) StartSession(ctx context.Context, userID int64, hostIP string, remember bool) (string, error) {
	if userID < 0 {
		return "", fmt.Errorf("%w: user id must not be negative", ErrInvalidInput)
	}
	now := s.Now()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		authID, err := newAuthID()
		if err != nil {
			return "", fmt.Errorf("auth: generate session id: %w", err)
		}
		key := s.sessionKey(authID)
		claimed, err := s.rdb.HSetNX(ctx, key, "userid", strconv.FormatInt(userID, 10)).Result()
		if err != nil {
			return "", storageErr("start session", err)
		}
		if !claimed {
			continue
		}
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"hostip", hostIP,
				"created", strconv.FormatInt(now.UnixNano(), 10),
				"remembered", formatBool(remember),
			)
			pipe.SAdd(ctx, s.indexKey(), authID)
			pipe.SAdd(ctx, s.userKey(userID), authID)
			return nil
		})
		if err != nil {
			_ = s.rdb.Del(ctx, key).Err()
			return "", storageErr("start session", err)
		}
		return authID, nil
	}
	return "", storageErr("start session", errors.New("no unique session id after retries"))
}

func (s *RedisSessions) IsSessionValid(ctx context.Context, authID, hostIP string) (bool, error) {
	sess, ok, err := s.load(ctx, authID)
	if err != nil {
		return false, storageErr("check session", err)
	}
	if !ok {
		return false, nil
	}
	return s.valid(sess, hostIP), nil
}

func (s *RedisSessions) ContinueSession(ctx context.Context, authID string) (bool, error) {
	sess, ok, err := s.load(ctx, authID)
	if err != nil {
		return false, storageErr("continue session", err)
	}
	now := s.Now()
	if !ok || s.expired(sess.CreatedAt, now) {
		return false, nil
	}
	if err := s.rdb.HSet(ctx, s.sessionKey(authID), "created", strconv.FormatInt(now.UnixNano(), 10)).Err(); err != nil {
		return false, storageErr("continue session", err)
	}
	return true, nil
}

func (s *RedisSessions) SessionUserID(ctx context.Context, authID string) (int64, error) {
	raw, err := s.rdb.HGet(ctx, s.sessionKey(authID), "userid").Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("lookup session user", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, storageErr("lookup session user", fmt.Errorf("corrupt user id %q: %w", raw, err))
	}
	return id, nil
}

func (s *RedisSessions) WasRemembered(ctx context.Context, authID string) (bool, error) {
	raw, err := s.rdb.HGet(ctx, s.sessionKey(authID), "remembered").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("lookup session remembered", err)
	}
	return raw == "1", nil
}

func (s *RedisSessions) EraseSession(ctx context.Context, authID string) (bool, error) {
	removed, err := s.erase(ctx, authID)
	if err != nil {
		return false, storageErr("erase session", err)
	}
	return removed, nil
}

func (s *RedisSessions) EraseUserSessions(ctx context.Context, userID int64) (int64, error) {
	authIDs, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, storageErr("erase user sessions", err)
	}
	var n int64
	for _, authID := range authIDs {
		removed, err := s.erase(ctx, authID)
		if err != nil {
			return n, storageErr("erase user sessions", err)
		}
		if removed {
			n++
		}
	}
	if err := s.rdb.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return n, storageErr("erase user sessions", err)
	}
	return n, nil
}

func (s *RedisSessions) EraseAllSessions(ctx context.Context) error {
	for _, pattern := range []string{s.prefix + ":session:*", s.prefix + ":user:*"} {
		if _, err := s.deleteMatching(ctx, pattern); err != nil {
			return storageErr("erase all sessions", err)
		}
	}
	if err := s.rdb.Del(ctx, s.indexKey()).Err(); err != nil {
		return storageErr("erase all sessions", err)
	}
	return nil
}

func (s *RedisSessions) PurgeSessions(ctx context.Context) (int64, error) {
	if _, ok := s.cutoff(s.Now()); !ok {
		return 0, nil
	}
	authIDs, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, storageErr("purge sessions", err)
	}
	now := s.Now()
	var n int64
	for _, authID := range authIDs {
		sess, ok, err := s.load(ctx, authID)
		if err != nil {
			return n, storageErr("purge sessions", err)
		}
		if ok && !s.expired(sess.CreatedAt, now) {
			continue
		}
		removed, err := s.erase(ctx, authID)
		if err != nil {
			return n, storageErr("purge sessions", err)
		}
		if removed && ok {
			n++
		}
	}
	return n, nil
}

func (s *RedisSessions) CountSessions(ctx context.Context) (int64, error) {
	authIDs, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, storageErr("count sessions", err)
	}
	now := s.Now()
	var n int64
	for _, authID := range authIDs {
		sess, ok, err := s.load(ctx, authID)
		if err != nil {
			return 0, storageErr("count sessions", err)
		}
		if ok && !s.expired(sess.CreatedAt, now) {
			n++
		}
	}
	return n, nil
}

// load returns false for absent sessions and for sessions still being
// written by StartSession.
func (s *RedisSessions) load(ctx context.Context, authID string) (Session, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(authID)).Result()
	if err != nil {
		return Session{}, false, err
	}
	rawUser, okUser := fields["userid"]
	rawCreated, okCreated := fields["created"]
	if !okUser || !okCreated {
		return Session{}, false, nil
	}
	userID, err := strconv.ParseInt(rawUser, 10, 64)
	if err != nil {
		return Session{}, false, fmt.Errorf("corrupt user id %q: %w", rawUser, err)
	}
	created, err := strconv.ParseInt(rawCreated, 10, 64)
	if err != nil {
		return Session{}, false, fmt.Errorf("corrupt creation time %q: %w", rawCreated, err)
	}
	return Session{
		AuthID:     authID,
		UserID:     userID,
		HostIP:     fields["hostip"],
		CreatedAt:  time.Unix(0, created),
		Remembered: fields["remembered"] == "1",
	}, true, nil
}

func (s *RedisSessions) erase(ctx context.Context, authID string) (bool, error) {
	key := s.sessionKey(authID)
	rawUser, err := s.rdb.HGet(ctx, key, "userid").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	var del *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		pipe.SRem(ctx, s.indexKey(), authID)
		if rawUser != "" {
			pipe.SRem(ctx, s.prefix+":user:"+rawUser, authID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func (s *RedisSessions) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var n int64
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		removed, err := s.rdb.Del(ctx, iter.Val()).Result()
		if err != nil {
			return n, err
		}
		n += removed
	}
	return n, iter.Err()
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
