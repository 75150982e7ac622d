package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInsufficientScope   = errors.New("token scope does not allow this operation")
	ErrInvalidSecretLength = errors.New("admin secret must be at least 32 characters")
)

// Scope limits what a token may do. ScopeAdmin includes ScopeRead.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeAdmin Scope = "admin"
)

// Allows reports whether a token with scope s may perform an operation
// requiring want.
func (s Scope) Allows(want Scope) bool {
	return s == ScopeAdmin || s == want
}

// Claims are the JWT claims of an admin token.
type Claims struct {
	jwt.RegisteredClaims

	Scope Scope `json:"scope"`
}

// TokenService signs and validates HS256 admin tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a service for cfg. The secret comes from
// Config.GetJWTSecret.
func NewTokenService(cfg Config) (*TokenService, error) {
	cfg.ApplyDefaults()
	secret := cfg.GetJWTSecret()
	if len(secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	return &TokenService{
		secret: []byte(secret),
		issuer: cfg.JWT.Issuer,
		ttl:    cfg.JWT.TokenDuration,
		now:    time.Now,
	}, nil
}

// Issue signs a token for subject with the given scope.
func (s *TokenService) Issue(subject string, scope Scope) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses a token and checks signature, expiry and issuer.
func (s *TokenService) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFromContext returns the claims stored by RequireScope.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireScope rejects requests without a valid bearer token allowing want.
func RequireScope(ts *TokenService, want Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				Unauthorized(w, "missing bearer token")
				return
			}
			claims, err := ts.Validate(token)
			if err != nil {
				Unauthorized(w, err.Error())
				return
			}
			if !claims.Scope.Allows(want) {
				Forbidden(w, ErrInsufficientScope.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
