package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/firebase/emulators-codelab/api/controllers"
	"github.com/firebase/emulators-codelab/api/middleware"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/instance"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// source is a trigger delivery loop: a Pub/Sub consumer, a Firestore
// listener or the relay.
type source interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	Source     source
	SourceName string
	Pingers    map[string]controllers.Pinger
	Gatherer   prometheus.Gatherer
}

// Service runs one trigger source next to a small health and metrics
// server.
type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	source   source
	name     string
	pingers  map[string]controllers.Pinger
	gatherer prometheus.Gatherer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Source == nil {
		return nil, errors.New("trigger source is required")
	}
	name := params.SourceName
	if name == "" {
		name = params.Config.Trigger.Source
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		source:   params.Source,
		name:     name,
		pingers:  params.Pingers,
		gatherer: gatherer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		if err := pingDependency(ctx, s.logg, name, p.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Handler serves liveness, readiness and metrics.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(s.logg), middleware.RequestID(s.logg))
	r.Get("/health/live", controllers.HealthLive(s.cfg))
	r.Get("/health/ready", controllers.HealthReady(s.cfg, s.logg, s.pingers))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Run blocks until ctx is canceled or the source stops. A source that
// returns on its own, even without an error, stops the worker so the
// platform restarts it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + s.cfg.App.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"source":   s.name,
		"addr":     server.Addr,
		"instance": instance.GetID(),
	})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logg.Info(gctx, "trigger source started")
		err := s.source.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("trigger source stopped")
		}
		return err
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		s.logg.Error(ctx, "worker stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return nil
}
