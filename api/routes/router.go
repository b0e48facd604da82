package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firebase/emulators-codelab/api/controllers"
	"github.com/firebase/emulators-codelab/api/middleware"
	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/internal/view"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/redis"
)

// Deps are the collaborators the API is assembled from. Anonymous and
// Limiter are optional; Gatherer defaults to the global registry.
type Deps struct {
	Verifier  auth.Verifier
	Anonymous interface {
		SignInAnonymously(ctx context.Context) (*auth.Identity, string, error)
	}
	Carts    *cart.Service
	Catalog  *catalog.Service
	Limiter  redis.RateLimiter
	Pingers  map[string]controllers.Pinger
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	cartWrites := middleware.NewRateLimitPolicy("cart_write", cfg.RateLimit.CartWriteWindow, cfg.RateLimit.CartWriteLimit)

	var seedOpt []view.Option
	if cfg.Catalog.AutoSeed && deps.Catalog != nil {
		seedOpt = append(seedOpt, view.WithSeeder(deps.Catalog))
	}
	openView := func(ctx context.Context, identity *auth.Identity) (*view.View, error) {
		return view.Open(ctx, deps.Carts, identity, logg, seedOpt...)
	}
	storeFor := func(identity *auth.Identity) docstore.Store {
		return deps.Carts.Store(identity)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Anonymous != nil {
			r.Post("/auth/anonymous", controllers.AuthAnonymous(deps.Anonymous, logg))
		}

		r.Get("/catalog/items", controllers.CatalogItems(deps.Catalog, logg))
		r.Get("/catalog/items/{itemId}", controllers.CatalogItem(deps.Catalog, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.Auth(deps.Verifier, logg))
			r.Get("/", controllers.CartGet(deps.Carts, logg))
			r.Get("/items", controllers.CartItems(deps.Carts, logg))
			r.With(middleware.RateLimit(cartWrites, deps.Limiter, logg)).Put("/items/{itemId}", controllers.CartPutItem(deps.Carts, logg))
			r.With(middleware.RateLimit(cartWrites, deps.Limiter, logg)).Delete("/items/{itemId}", controllers.CartDeleteItem(deps.Carts, logg))
			r.Get("/view", controllers.CartView(openView, logg))
			r.Get("/view/stream", controllers.CartViewStream(openView, logg))
		})

		r.Route("/documents", func(r chi.Router) {
			r.Use(middleware.OptionalAuth(deps.Verifier, logg))
			r.Get("/*", controllers.DocumentGet(storeFor, logg))
			r.With(middleware.RateLimit(cartWrites, deps.Limiter, logg)).Put("/*", controllers.DocumentPut(storeFor, logg))
			r.With(middleware.RateLimit(cartWrites, deps.Limiter, logg)).Patch("/*", controllers.DocumentPatch(storeFor, logg))
			r.With(middleware.RateLimit(cartWrites, deps.Limiter, logg)).Post("/*", controllers.DocumentPost(storeFor, logg))
			r.With(middleware.RateLimit(cartWrites, deps.Limiter, logg)).Delete("/*", controllers.DocumentDelete(storeFor, logg))
		})
	})

	return r
}
