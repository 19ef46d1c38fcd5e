// Package auth describes the authentication contract that fronts the
// engine rely on. The engine itself never authenticates a request; a
// front (HTTP handler, chat bridge) validates a token upstream and
// attaches the resulting Claims to the context before invoking the
// engine. JWTValidator is one concrete, pluggable implementation of
// that contract, wired against a JWKS endpoint.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator is the contract a front uses to turn a bearer token
// into Claims. Implementations are pluggable; the engine only ever
// consumes the resulting *Claims via ClaimsFromContext.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
	Close()
}

// JWTValidatorConfig configures a JWKS-backed JWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// SetDefaults fills unset fields with production-sane values.
func (c *JWTValidatorConfig) SetDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Minute
	}
}

func (c *JWTValidatorConfig) validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("jwks_url is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	return nil
}

// JWTValidator validates JWT tokens issued by an external auth provider.
// It auto-fetches and caches the provider's JWKS (public keys).
type JWTValidator struct {
	cfg   JWTValidatorConfig
	cache *jwk.Cache
}

// NewJWTValidator creates a validator that auto-fetches JWKS from the provider.
// The JWKS is cached and auto-refreshed on cfg.RefreshInterval to handle key rotation.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	cfg.SetDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid jwt validator config: %w", err)
	}

	ctx := context.Background()
	cache := jwk.NewCache(ctx)

	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{cfg: cfg, cache: cache}, nil
}

// ValidateToken validates a JWT token and extracts claims. It verifies
// the signature against the cached JWKS, expiration, issuer, and
// audience.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.cfg.Issuer),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}

	if email, ok := token.Get("email"); ok {
		if emailStr, ok := email.(string); ok {
			claims.Email = emailStr
		}
	}
	if role, ok := token.Get("role"); ok {
		if roleStr, ok := role.(string); ok {
			claims.Role = roleStr
		}
	}
	if tenantID, ok := token.Get("tenant_id"); ok {
		if tenantStr, ok := tenantID.(string); ok {
			claims.TenantID = tenantStr
		}
	}

	for it := token.Iterate(ctx); it.Next(ctx); {
		pair := it.Pair()
		key, _ := pair.Key.(string)
		switch key {
		case "sub", "email", "role", "tenant_id", "iss", "aud", "exp", "iat", "nbf":
			continue
		default:
			claims.Custom[key] = pair.Value
		}
	}

	return claims, nil
}

// Close is a no-op. The JWKS cache is bound to context.Background(),
// so its auto-refresh goroutine is not stopped and the validator keeps
// working after Close.
func (v *JWTValidator) Close() {}
