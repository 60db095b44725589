// Package auth validates bearer tokens on the HTTP surface. Keys come
// from a remote JWKS endpoint with auto-refresh, or from a local HMAC
// secret for single-user deployments.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// Claims are the identity fields extracted from a validated token.
type Claims struct {
	Subject string         `json:"sub"`
	Email   string         `json:"email,omitempty"`
	Role    string         `json:"role,omitempty"`
	Custom  map[string]any `json:"-"`
}

// Validator checks token signatures and standard claims.
type Validator struct {
	cfg    config.AuthConfig
	cache  *jwk.Cache
	secret []byte
}

// NewValidator builds a validator from the auth config. A JWKS URL
// takes precedence over a local secret; the key set is fetched once at
// startup so misconfiguration fails fast.
func NewValidator(ctx context.Context, cfg config.AuthConfig) (*Validator, error) {
	v := &Validator{cfg: cfg}

	switch {
	case cfg.JWKSURL != "":
		refresh := cfg.RefreshInterval
		if refresh <= 0 {
			refresh = 15 * time.Minute
		}
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.cache = cache
	case cfg.Secret != "":
		v.secret = []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("auth enabled but neither jwks_url nor secret is set")
	}
	return v, nil
}

// Validate parses the token, verifies its signature, expiry, and the
// configured issuer/audience, and returns the claims.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParseOption{jwt.WithValidate(true), jwt.WithContext(ctx)}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	if v.cache != nil {
		keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, v.secret))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claimsFrom(ctx, token), nil
}

func claimsFrom(ctx context.Context, token jwt.Token) *Claims {
	claims := &Claims{Subject: token.Subject(), Custom: make(map[string]any)}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}

	standard := map[string]bool{
		"sub": true, "email": true, "role": true,
		"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true, "jti": true,
	}
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		if key, ok := pair.Key.(string); ok && !standard[key] {
			claims.Custom[key] = pair.Value
		}
	}
	return claims
}
