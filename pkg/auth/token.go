package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintToken issues a signed JWT for identity using the configured TTL.
func MintToken(cfg config.AuthConfig, now time.Time, identity Identity) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.JWTIssuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if cfg.TokenTTL() <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	uid := strings.TrimSpace(identity.UID)
	if uid == "" {
		return "", fmt.Errorf("uid is required")
	}

	claims := TokenClaims{
		UID:       uid,
		Email:     identity.Email,
		Anonymous: identity.Anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL())),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseToken validates the JWT string and returns typed claims.
func ParseToken(cfg config.AuthConfig, tokenString string) (*TokenClaims, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.JWTIssuer),
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UID) == "" {
		return nil, errors.New("token has no uid")
	}
	return claims, nil
}

// LocalProvider signs and verifies tokens in-process. It stands in for the
// hosted auth provider when CODELAB_AUTH_MODE=local.
type LocalProvider struct {
	cfg config.AuthConfig
	now func() time.Time
}

func NewLocalProvider(cfg config.AuthConfig) *LocalProvider {
	return &LocalProvider{cfg: cfg, now: time.Now}
}

func (p *LocalProvider) Verify(_ context.Context, token string) (*Identity, error) {
	claims, err := ParseToken(p.cfg, token)
	if err != nil {
		return nil, err
	}
	return claims.Identity(), nil
}

// SignInAnonymously creates a fresh anonymous identity and its token.
func (p *LocalProvider) SignInAnonymously(_ context.Context) (*Identity, string, error) {
	identity := Identity{UID: uuid.NewString(), Anonymous: true, Provider: ProviderAnonymous}
	token, err := MintToken(p.cfg, p.now().UTC(), identity)
	if err != nil {
		return nil, "", err
	}
	return &identity, token, nil
}

// Issue signs a token for a known uid, used by tests and seed tooling.
func (p *LocalProvider) Issue(identity Identity) (string, error) {
	return MintToken(p.cfg, p.now().UTC(), identity)
}
