package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

var (
	ErrMissingAuthHeader = errors.New("missing or malformed Authorization header")
	ErrInvalidToken      = errors.New("invalid token")
	ErrMissingSecret     = errors.New("jwt secret is required")
)

// Claims is the token body. Subject carries the identity id.
type Claims struct {
	Role      string `json:"role"`
	ProfileID string `json:"profileId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns an opaque bearer token into an identity.
type Verifier interface {
	Verify(token string) (protocol.Identity, error)
}

// JWT signs and verifies HMAC tokens with a shared secret.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT returns a provider for secret.
func NewJWT(secret string) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Verify validates token and returns the identity it names. Role aliases
// such as "supervisor" or "student" are normalized.
func (j *JWT) Verify(token string) (protocol.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return protocol.Identity{}, protocol.Unauthorized("token is required")
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil || !parsed.Valid {
		return protocol.Identity{}, protocol.Unauthorized(ErrInvalidToken.Error())
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return protocol.Identity{}, protocol.Unauthorized(ErrInvalidToken.Error())
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return protocol.Identity{}, protocol.Unauthorized("token has no subject")
	}
	role, ok := protocol.ParseRole(claims.Role)
	if !ok {
		return protocol.Identity{}, protocol.Unauthorized("token has an unknown role")
	}
	return protocol.Identity{ID: sub, Role: role, ProfileID: claims.ProfileID}, nil
}

// Issue signs a token for identity. A zero ttl issues a token without expiry.
func (j *JWT) Issue(identity protocol.Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", errors.New("identity id is required")
	}
	now := j.now()
	claims := Claims{
		Role:      string(identity.Role),
		ProfileID: identity.ProfileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ExtractTokenFromHeader extracts the token from an Authorization header.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingAuthHeader
	}
	return strings.TrimSpace(token), nil
}
