package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/firebase/emulators-codelab/api/controllers"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

type fakeSource struct {
	err     error
	started chan struct{}
}

func (f *fakeSource) Run(ctx context.Context) error {
	if f.started != nil {
		close(f.started)
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Env: config.AppEnvDev, Port: "0"},
		Trigger: config.TriggerConfig{Source: config.TriggerSourcePubSub},
	}
}

func newTestService(t *testing.T, src source, pingers map[string]controllers.Pinger) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:   testConfig(),
		Logger:   logger.Nop(),
		Source:   src,
		Pingers:  pingers,
		Gatherer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.Nop(), Source: &fakeSource{}}); err == nil {
		t.Fatalf("expected error without config")
	}
	if _, err := NewService(ServiceParams{Config: testConfig(), Source: &fakeSource{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewService(ServiceParams{Config: testConfig(), Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected error without source")
	}
	svc := newTestService(t, &fakeSource{}, nil)
	if svc.name != config.TriggerSourcePubSub {
		t.Fatalf("expected source name from config, got %q", svc.name)
	}
}

func TestRunFailsWhenDependencyIsDown(t *testing.T) {
	src := &fakeSource{started: make(chan struct{})}
	svc := newTestService(t, src, map[string]controllers.Pinger{"pubsub": fakePinger{err: errors.New("unreachable")}})

	if err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness error")
	}
	select {
	case <-src.started:
		t.Fatalf("source must not start before dependencies are ready")
	default:
	}
}

func TestRunReturnsSourceError(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc := newTestService(t, &fakeSource{err: boom}, map[string]controllers.Pinger{"pubsub": fakePinger{}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{started: make(chan struct{})}
	svc := newTestService(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("source never started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, map[string]controllers.Pinger{"redis": fakePinger{err: errors.New("down")}})
	handler := svc.Handler()

	for path, want := range map[string]int{
		"/health/live":  http.StatusOK,
		"/health/ready": http.StatusServiceUnavailable,
		"/metrics":      http.StatusOK,
	} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.Code)
		}
	}
}
