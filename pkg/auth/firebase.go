package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/env"
	"google.golang.org/api/option"
)

// emulatorHostEnv is read by the Firebase Admin SDK itself.
const emulatorHostEnv = "FIREBASE_AUTH_EMULATOR_HOST"

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens with the Admin SDK.
type FirebaseVerifier struct {
	client idTokenVerifier
}

func NewFirebaseVerifier(ctx context.Context, gcp config.GCPConfig, cfg config.AuthConfig) (*FirebaseVerifier, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errors.New("firebase project id is required")
	}
	if err := env.SetDefault(emulatorHostEnv, cfg.EmulatorHost); err != nil {
		return nil, fmt.Errorf("export auth emulator host: %w", err)
	}

	var opts []option.ClientOption
	if gcp.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcp.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: gcp.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app init: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth init: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialized")
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	uid := strings.TrimSpace(token.UID)
	if uid == "" {
		return nil, errors.New("invalid uid in token")
	}

	identity := &Identity{UID: uid, Provider: token.Firebase.SignInProvider}
	identity.Anonymous = identity.Provider == ProviderAnonymous
	if emailRaw, ok := token.Claims["email"]; ok {
		if e, ok := emailRaw.(string); ok {
			identity.Email = strings.TrimSpace(e)
		}
	}
	return identity, nil
}
