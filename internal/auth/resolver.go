package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Aidin1998/optigate/internal/ratelimit"
)

var (
	// ErrInvalidToken is returned for a bearer token that fails validation.
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrAuthRequired is returned when no token is supplied but one is required.
	ErrAuthRequired = errors.New("authentication required")
)

// Config controls identity resolution.
type Config struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Required  bool   `mapstructure:"required"`
}

// Identity is the caller as seen by the rate limiter and history.
type Identity struct {
	Key           string // limiter key, "user:<sub>" or "ip:<addr>"
	Subject       string
	Authenticated bool
}

// Resolver derives an Identity from request credentials.
type Resolver interface {
	Resolve(ctx context.Context, authorization, clientIP string) (Identity, error)
}

// AddressResolver identifies every caller by network address.
type AddressResolver struct{}

// Resolve implements Resolver.
func (AddressResolver) Resolve(_ context.Context, _ string, clientIP string) (Identity, error) {
	return Identity{Key: ratelimit.IPKey(clientIP)}, nil
}

// JWTResolver identifies callers by the subject of an HMAC-signed bearer
// token and falls back to the network address when no token is sent.
type JWTResolver struct {
	secret   []byte
	issuer   string
	required bool
}

// NewJWTResolver creates a resolver validating tokens with secret.
func NewJWTResolver(cfg Config) (*JWTResolver, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTResolver{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, required: cfg.Required}, nil
}

// NewResolver picks the JWT resolver when a secret is configured.
func NewResolver(cfg Config) (Resolver, error) {
	if cfg.JWTSecret == "" {
		if cfg.Required {
			return nil, errors.New("auth: required is set but no jwt secret is configured")
		}
		return AddressResolver{}, nil
	}
	return NewJWTResolver(cfg)
}

// Resolve implements Resolver.
func (r *JWTResolver) Resolve(_ context.Context, authorization, clientIP string) (Identity, error) {
	raw, ok := bearerToken(authorization)
	if !ok {
		if r.required {
			return Identity{}, ErrAuthRequired
		}
		return Identity{Key: ratelimit.IPKey(clientIP)}, nil
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{Key: ratelimit.UserKey(claims.Subject), Subject: claims.Subject, Authenticated: true}, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
