package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/firebase/emulators-codelab/api/responses"
	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

type catalogReader interface {
	List(ctx context.Context) ([]catalog.Item, error)
	Get(ctx context.Context, itemID string) (*catalog.Item, error)
}

func CatalogItems(svc catalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

func CatalogItem(svc catalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := svc.Get(r.Context(), chi.URLParam(r, "itemId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, item)
	}
}
