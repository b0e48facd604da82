package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/config"
)

func testVerifier() *auth.LocalProvider {
	return auth.NewLocalProvider(config.AuthConfig{
		Mode:              config.AuthModeLocal,
		JWTSecret:         "secret",
		JWTIssuer:         "issuer",
		ExpirationMinutes: 10,
	})
}

func okHandler(captured **auth.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	var got *auth.Identity
	handler := Auth(testVerifier(), nil)(okHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	var got *auth.Identity
	handler := Auth(testVerifier(), nil)(okHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	verifier := testVerifier()
	token, err := verifier.Issue(auth.Identity{UID: "alice"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var got *auth.Identity
	handler := Auth(verifier, nil)(okHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got == nil || got.UID != "alice" {
		t.Fatalf("expected alice in context, got %+v", got)
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	verifier := testVerifier()
	token, err := verifier.Issue(auth.Identity{UID: "bob"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var got *auth.Identity
	handler := Auth(verifier, nil)(okHandler(&got))
	req := httptest.NewRequest(http.MethodGet, "/stream?access_token="+token, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || got == nil || got.UID != "bob" {
		t.Fatalf("expected bob, got %d %+v", resp.Code, got)
	}
}

func TestOptionalAuthLetsAnonymousThrough(t *testing.T) {
	var got *auth.Identity
	handler := OptionalAuth(testVerifier(), nil)(okHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got != nil {
		t.Fatalf("expected no identity, got %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token got %d", resp.Code)
	}
}

type failingVerifier struct{}

func (failingVerifier) Verify(context.Context, string) (*auth.Identity, error) {
	return nil, errors.New("provider unreachable")
}

func TestAuthWrapsVerifierErrors(t *testing.T) {
	var got *auth.Identity
	handler := Auth(failingVerifier{}, nil)(okHandler(&got))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "token-without-scheme")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

type stubLimiter struct {
	counts map[string]int64
	err    error
}

func (s *stubLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if s.err != nil {
		return false, 0, s.err
	}
	s.counts[scope]++
	return s.counts[scope] <= limit, s.counts[scope], nil
}

func TestRateLimitPerCaller(t *testing.T) {
	limiter := &stubLimiter{counts: map[string]int64{}}
	policy := NewRateLimitPolicy("cart_write", time.Minute, 2)
	handler := RateLimit(policy, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(uid string) int {
		req := httptest.NewRequest(http.MethodPut, "/", nil)
		if uid != "" {
			req = req.WithContext(WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := call("alice"); code != http.StatusNoContent {
		t.Fatalf("first call got %d", code)
	}
	if code := call("alice"); code != http.StatusNoContent {
		t.Fatalf("second call got %d", code)
	}
	if code := call("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("third call expected 429 got %d", code)
	}
	if code := call("bob"); code != http.StatusNoContent {
		t.Fatalf("bob has his own budget, got %d", code)
	}
	if _, ok := limiter.counts["cart_write:ip:192.0.2.1"]; ok {
		t.Fatalf("authenticated calls must not be keyed by ip")
	}
	if code := call(""); code != http.StatusNoContent {
		t.Fatalf("anonymous call got %d", code)
	}
	if limiter.counts["cart_write:ip:192.0.2.1"] != 1 {
		t.Fatalf("anonymous call should be keyed by ip: %v", limiter.counts)
	}
}

func TestRateLimitStoreFailure(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("cart_write", time.Minute, 2), limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("x", 0, 0), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", resp.Code)
	}
}

func TestRecovererAndRequestID(t *testing.T) {
	handler := RequestID(nil)(Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromContext(r.Context()) == "" {
			t.Errorf("request id missing from context")
		}
		panic("boom")
	})))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if resp.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}
