package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync/atomic"
	"time"
)

const (
	// DefaultSessionDuration is used when no duration is configured.
	DefaultSessionDuration = 20 * time.Minute

	tokenBytes       = 32
	maxTokenAttempts = 3
)

// Policy holds the process-wide session settings shared by a store.
// Changes apply to every later check; decisions already returned are not revisited.
type Policy struct {
	durationNanos  atomic.Int64
	restrictHostIP atomic.Bool
	now            atomic.Pointer[func() time.Time]
}

// NewPolicy returns a policy with the given duration and host-IP restriction disabled.
func NewPolicy(d time.Duration) *Policy {
	p := &Policy{}
	p.SetClock(time.Now)
	p.durationNanos.Store(int64(d))
	return p
}

// SetSessionDuration sets how long a session stays valid after it was started.
// Zero expires sessions as soon as any time passes; negative disables expiry.
func (p *Policy) SetSessionDuration(d time.Duration) { p.durationNanos.Store(int64(d)) }

func (p *Policy) SessionDuration() time.Duration { return time.Duration(p.durationNanos.Load()) }

// SetRestrictHostIP binds sessions to the host IP that created them.
func (p *Policy) SetRestrictHostIP(restrict bool) { p.restrictHostIP.Store(restrict) }

func (p *Policy) RestrictHostIP() bool { return p.restrictHostIP.Load() }

// SetClock overrides the time source. It may be called while sessions are
// being checked.
func (p *Policy) SetClock(fn func() time.Time) {
	if fn != nil {
		p.now.Store(&fn)
	}
}

func (p *Policy) Now() time.Time { return (*p.now.Load())() }

func (p *Policy) expired(created, now time.Time) bool {
	d := p.SessionDuration()
	if d < 0 {
		return false
	}
	return now.Sub(created) > d
}

// cutoff returns the oldest creation time still considered live, and false
// when sessions never expire.
func (p *Policy) cutoff(now time.Time) (time.Time, bool) {
	d := p.SessionDuration()
	if d < 0 {
		return time.Time{}, false
	}
	return now.Add(-d), true
}

func (p *Policy) valid(sess Session, hostIP string) bool {
	if p.expired(sess.CreatedAt, p.Now()) {
		return false
	}
	if p.RestrictHostIP() && sess.HostIP != hostIP {
		return false
	}
	return true
}

func newAuthID() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
