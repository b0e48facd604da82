package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller. UID is the only field rules depend on.
type Identity struct {
	UID       string `json:"uid"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
	Provider  string `json:"provider,omitempty"`
}

// SignedIn reports whether the identity carries a uid.
func (i *Identity) SignedIn() bool {
	return i != nil && strings.TrimSpace(i.UID) != ""
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// TokenClaims represents the typed JWT issued by the local provider.
type TokenClaims struct {
	UID       string `json:"uid"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
	jwt.RegisteredClaims
}

func (c *TokenClaims) Identity() *Identity {
	provider := ProviderPassword
	if c.Anonymous {
		provider = ProviderAnonymous
	}
	return &Identity{UID: c.UID, Email: c.Email, Anonymous: c.Anonymous, Provider: provider}
}

const (
	ProviderAnonymous = "anonymous"
	ProviderPassword  = "password"
)
