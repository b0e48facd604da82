package controllers

import (
	"context"
	"net/http"

	"github.com/firebase/emulators-codelab/api/responses"
	"github.com/firebase/emulators-codelab/pkg/auth"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

type anonymousSignIn interface {
	SignInAnonymously(ctx context.Context) (*auth.Identity, string, error)
}

type signInResponse struct {
	UID       string `json:"uid"`
	Anonymous bool   `json:"anonymous"`
	Token     string `json:"token"`
}

// AuthAnonymous creates a fresh anonymous identity and returns its bearer
// token.
func AuthAnonymous(provider anonymousSignIn, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, token, err := provider.SignInAnonymously(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "anonymous sign-in"))
			return
		}
		if logg != nil {
			logg.Info(logg.WithUserID(r.Context(), identity.UID), "auth.anonymous_sign_in")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, signInResponse{
			UID:       identity.UID,
			Anonymous: identity.Anonymous,
			Token:     token,
		})
	}
}
