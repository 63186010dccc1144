package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// internalSecretHeader carries the shared secret for system-to-system calls
// (the sweeper, cron invocations, manual replays).
const internalSecretHeader = "X-Internal-Secret"

// ErrUnauthenticated is returned when a request carries neither a valid
// bearer token nor the internal secret.
var ErrUnauthenticated = errors.New("unauthenticated", j.C("ERR_c5e0a7412f98d6b3"))

// Claims are the bearer token claims of an authenticated user.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of a request. System identities are
// unscoped; user identities are restricted to their tenant's events.
type Identity struct {
	UserID   string
	TenantID string
	System   bool
}

// NewAuthenticator returns an authenticator accepting either an HMAC-signed
// bearer token or the shared internal secret.
func NewAuthenticator(jwtSecret []byte, internalSecret string) *Authenticator {
	return &Authenticator{
		jwtSecret:      jwtSecret,
		internalSecret: internalSecret,
	}
}

// Authenticator resolves request credentials to an Identity.
type Authenticator struct {
	jwtSecret      []byte
	internalSecret string
}

// Authenticate returns the caller's identity or ErrUnauthenticated. The
// internal secret is checked first so system callers never depend on token
// issuance.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	if secret := r.Header.Get(internalSecretHeader); secret != "" {
		if a.internalSecret != "" &&
			subtle.ConstantTimeCompare([]byte(secret), []byte(a.internalSecret)) == 1 {
			return &Identity{System: true}, nil
		}
		return nil, errors.Wrap(ErrUnauthenticated, "invalid internal secret")
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.Wrap(ErrUnauthenticated, "missing credentials")
	}

	claims, err := a.validateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, errors.Wrap(ErrUnauthenticated, err.Error())
	}

	return &Identity{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
	}, nil
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method",
					j.KV("alg", token.Header["alg"]))
			}
			return a.jwtSecret, nil
		})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
