package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "dev" {
		t.Fatalf("expected App.Env to be dev, got %q", cfg.App.Env)
	}
	if cfg.App.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.App.Port)
	}
	if !cfg.Store.UsesMemory() {
		t.Fatalf("expected memory backend")
	}
	if !cfg.Auth.IsLocal() {
		t.Fatalf("expected local auth mode")
	}
	if got := cfg.Auth.TokenTTL(); got != time.Hour {
		t.Fatalf("expected 1h token ttl, got %v", got)
	}
	if !cfg.Aggregator.RecomputeOnDelete {
		t.Fatalf("expected recompute on delete to default true")
	}
	if cfg.Catalog.SeedCount != 9 {
		t.Fatalf("expected seed count 9, got %d", cfg.Catalog.SeedCount)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled without url or address")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_FirestoreRequiresProject(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvStoreBackend, StoreBackendFirestore)

	if _, err := Load(); err == nil {
		t.Fatal("expected firestore backend without project id to fail")
	}

	t.Setenv(EnvGCPProjectID, "demo-codelab")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with project id: %v", err)
	}
}

func TestLoad_LocalAuthRequiresSecret(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvAuthJWTSecret, "")

	if _, err := Load(); err == nil {
		t.Fatal("expected local auth without secret to fail")
	}
}

func TestLoad_RejectsUnknownTriggerSource(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvTriggerSource, "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown trigger source to fail")
	}
}

func TestLoad_RecomputeOnDeleteOverride(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvRecomputeOnDelete, "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Aggregator.RecomputeOnDelete {
		t.Fatal("expected recompute on delete override to be honored")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "dev")
	t.Setenv(EnvStoreBackend, StoreBackendMemory)
	t.Setenv(EnvAuthMode, AuthModeLocal)
	t.Setenv(EnvAuthJWTSecret, "secret")
	t.Setenv(EnvTriggerSource, TriggerSourceLocal)
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
}
