package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultRememberIssuer = "gatehouse"
	defaultRememberTTL    = 30 * 24 * time.Hour
)

// RememberClaims are the claims of a remember-me token.
type RememberClaims struct {
	Login string `json:"login"`
	jwt.RegisteredClaims
}

// RememberTokens issues and verifies HS256 remember-me tokens that let a
// client start a new session without re-entering its password.
type RememberTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewRememberTokens(secret, issuer string, ttl time.Duration) (*RememberTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: remember-me secret is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = defaultRememberIssuer
	}
	if ttl <= 0 {
		ttl = defaultRememberTTL
	}
	return &RememberTokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the user.
func (r *RememberTokens) Issue(userID int64, login string) (string, time.Time, error) {
	if userID < 0 || strings.TrimSpace(login) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id and login are required", ErrInvalidInput)
	}
	now := r.now().UTC()
	exp := now.Add(r.ttl)
	claims := RememberClaims{
		Login: login,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign remember token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature, issuer and expiry and returns the user id and
// login the token was issued for. Every failure is ErrInvalidToken.
func (r *RememberTokens) Verify(token string) (int64, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", ErrInvalidToken
	}
	claims := &RememberClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil || !parsed.Valid {
		return 0, "", ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID < 0 || strings.TrimSpace(claims.Login) == "" {
		return 0, "", ErrInvalidToken
	}
	return userID, claims.Login, nil
}
