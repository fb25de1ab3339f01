// Package auth verifies bearer tokens into an Identity and carries it through request
// contexts.
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized is returned for missing, malformed, expired or badly signed tokens.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// DefaultRole is assumed when a token carries no role claim.
const DefaultRole = "user"

// Identity is the verified caller.
type Identity struct {
	UserID string
	Role   string
}

// Claims are the token claims issued by the LMS login flow. user_id may be a string or
// a number.
type Claims struct {
	jwt.RegisteredClaims
	UserID any    `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses token and returns the caller identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if len(v.secret) == 0 || token == "" {
		return Identity{}, ErrUnauthorized
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}

	id := Identity{UserID: claimString(claims.UserID), Role: claims.Role}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return Identity{}, ErrUnauthorized
	}
	if id.Role == "" {
		id.Role = DefaultRole
	}
	return id, nil
}

// Issue signs a token for id. Used by tooling and tests; production tokens come from
// the LMS login service.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: id.UserID,
		Role:   id.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// Roles is the set of roles allowed to read any session.
type Roles map[string]bool

func NewRoles(names []string) Roles {
	r := make(Roles, len(names))
	for _, n := range names {
		r[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return r
}

// Allows reports whether id holds one of the roles.
func (r Roles) Allows(id Identity) bool {
	return r[strings.ToLower(id.Role)]
}
