package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie consulted when no Authorization header is sent.
const SessionCookie = "session_token"

// Subject identifies the authenticated principal behind a request.
type Subject string

// IsZero reports whether no principal is attached.
func (s Subject) IsZero() bool {
	return s == ""
}

// Claims are the session token claims the relay understands.
type Claims struct {
	jwt.RegisteredClaims
}

// Gate verifies session tokens. It is immutable after construction and safe
// for concurrent use.
type Gate struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewGate returns a Gate that accepts HS256 tokens signed with secret. When
// issuer is non-empty the token's iss claim must match it.
func NewGate(secret []byte, issuer string) *Gate {
	return &Gate{secret: secret, issuer: issuer, now: time.Now}
}

// WithClock returns a copy of g that reads the current time from now.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	cp := *g
	cp.now = now
	return &cp
}

// Authorize validates token and returns its subject. A token is valid while
// now < exp; there is no leeway.
func (g *Gate) Authorize(token string) (Subject, error) {
	if token == "" {
		return "", relayerr.New(relayerr.KindUnauthenticated, "no session token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		return "", classify(err)
	}

	if claims.Subject == "" {
		return "", relayerr.New(relayerr.KindTokenInvalid, "session token has no subject")
	}
	return Subject(claims.Subject), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return relayerr.Wrap(relayerr.KindUnauthenticated, err, "malformed session token")
	case errors.Is(err, jwt.ErrTokenExpired):
		return relayerr.Wrap(relayerr.KindTokenExpired, err, "session token expired")
	default:
		return relayerr.Wrap(relayerr.KindTokenInvalid, err, "invalid session token")
	}
}

// Issue signs a session token for subject. Credential issuance lives outside
// the relay; this exists for operators and tests.
func Issue(secret []byte, issuer, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
