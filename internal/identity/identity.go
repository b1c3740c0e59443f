// Package identity turns signed bearer tokens into trusted user identities.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway absorbs clock drift between the token issuer and us.
const DefaultLeeway = 5 * time.Second

// Identity is the verified caller.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"fullName,omitempty"`
	Email       string `json:"email,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Claims is the token payload. The user id travels in "id"; "sub" is
// accepted as a fallback.
type Claims struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) subject() string {
	if id := strings.TrimSpace(c.ID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

type Authenticator struct {
	secret []byte
	leeway time.Duration
	clock  clock.Clock
}

type Option func(*Authenticator)

func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) { a.leeway = d }
}

func WithClock(c clock.Clock) Option {
	return func(a *Authenticator) { a.clock = c }
}

func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret: []byte(secret),
		leeway: DefaultLeeway,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate verifies an HS256 token and returns the identity it carries.
// It has no side effects.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, newAuthError(CodeNoToken, ErrMissingCredential, nil)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, newAuthError(CodeTokenExpired, ErrExpiredCredential, err)
		}
		return Identity{}, newAuthError(CodeTokenInvalid, ErrInvalidCredential, err)
	}

	id := claims.subject()
	if id == "" {
		return Identity{}, newAuthError(CodeMissingSubject, ErrIncompleteIdentity, nil)
	}
	return Identity{
		ID:          id,
		DisplayName: strings.TrimSpace(claims.FullName),
		Email:       strings.TrimSpace(claims.Email),
		Avatar:      strings.TrimSpace(claims.Avatar),
	}, nil
}

// Issuer signs tokens the Authenticator accepts. The login flow lives
// outside this service; Issuer serves tooling and tests.
type Issuer struct {
	secret []byte
	clock  clock.Clock
}

func NewIssuer(secret string, c clock.Clock) *Issuer {
	if c == nil {
		c = clock.New()
	}
	return &Issuer{secret: []byte(secret), clock: c}
}

// Issue signs a token for id valid for ttl. A zero ttl yields a token
// without expiry.
func (i *Issuer) Issue(id Identity, ttl time.Duration) (string, error) {
	now := i.clock.Now()
	claims := Claims{
		ID:       id.ID,
		Email:    id.Email,
		FullName: id.DisplayName,
		Avatar:   id.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
