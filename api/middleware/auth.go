package middleware

import (
	"net/http"
	"strings"

	"github.com/firebase/emulators-codelab/api/responses"
	"github.com/firebase/emulators-codelab/pkg/auth"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

// Auth verifies the bearer token and seeds the request context with the
// caller's identity. Requests without a valid token are rejected.
func Auth(verifier auth.Verifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return authenticate(verifier, true, logg)
}

// OptionalAuth attaches the identity when a token is present and lets
// anonymous requests through. An invalid token is still rejected.
func OptionalAuth(verifier auth.Verifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return authenticate(verifier, false, logg)
}

func authenticate(verifier auth.Verifier, required bool, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if required {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if verifier == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token verifier not configured"))
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if pkgerrors.As(err) == nil {
					err = pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
				}
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !identity.SignedIn() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token has no subject"))
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithUserID(ctx, identity.UID)
				if identity.Provider != "" {
					ctx = logg.WithField(ctx, "auth_provider", identity.Provider)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		// EventSource cannot set headers, so the stream endpoint also
		// accepts the token as a query parameter.
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
