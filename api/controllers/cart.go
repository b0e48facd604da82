package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/firebase/emulators-codelab/api/middleware"
	"github.com/firebase/emulators-codelab/api/responses"
	"github.com/firebase/emulators-codelab/api/validators"
	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

type cartService interface {
	GetCart(ctx context.Context, identity *auth.Identity) (*cart.Cart, error)
	ListItems(ctx context.Context, identity *auth.Identity) ([]cart.LineItem, error)
	AddItem(ctx context.Context, identity *auth.Identity, itemID string, qty *int64) (*cart.LineItem, error)
	RemoveItem(ctx context.Context, identity *auth.Identity, itemID string) error
}

type addItemRequest struct {
	Quantity *int64 `json:"quantity" validate:"omitempty,min=1,max=999"`
}

type cartResponse struct {
	*cart.Cart
	Items []cart.LineItem `json:"items"`
}

// CartGet returns the caller's cart with its line items.
func CartGet(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.IdentityFromContext(r.Context())
		c, err := svc.GetCart(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := svc.ListItems(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartResponse{Cart: c, Items: items})
	}
}

func CartItems(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListItems(r.Context(), middleware.IdentityFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

// CartPutItem copies a catalog item into the caller's cart. The body is
// optional; an empty body adds the item without a quantity field.
func CartPutItem(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addItemRequest
		if err := validators.DecodeJSONBody(r, &req, true); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := svc.AddItem(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "itemId"), req.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, line)
	}
}

func CartDeleteItem(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveItem(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "itemId")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
