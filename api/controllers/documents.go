package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/firebase/emulators-codelab/api/middleware"
	"github.com/firebase/emulators-codelab/api/responses"
	"github.com/firebase/emulators-codelab/api/validators"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/pagination"
)

const nextCursorHeader = "X-Next-Cursor"

// StoreFor returns the document store as seen by identity.
type StoreFor func(identity *auth.Identity) docstore.Store

type documentResponse struct {
	Path       string         `json:"path"`
	ID         string         `json:"id"`
	Exists     bool           `json:"exists"`
	Data       map[string]any `json:"data,omitempty"`
	UpdateTime *time.Time     `json:"updateTime,omitempty"`
}

func toDocumentResponse(doc *docstore.Document) documentResponse {
	out := documentResponse{Path: doc.Path, ID: doc.ID, Exists: doc.Exists, Data: doc.Data}
	if !doc.UpdateTime.IsZero() {
		ts := doc.UpdateTime
		out.UpdateTime = &ts
	}
	return out
}

func documentPath(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}

// DocumentGet reads a document, or lists a collection when the path has an
// odd number of segments. Listings are paged when limit or cursor is given.
func DocumentGet(storeFor StoreFor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := documentPath(r)
		store := storeFor(middleware.IdentityFromContext(r.Context()))
		if docstore.IsCollection(path) {
			params, paged, err := validators.ParsePagination(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			docs, err := store.List(r.Context(), path)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, documentError(err))
				return
			}
			if paged {
				var next string
				docs, next, err = pagination.Page(docs, func(d *docstore.Document) string { return d.ID }, params)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
					return
				}
				if next != "" {
					w.Header().Set(nextCursorHeader, next)
				}
			}
			out := make([]documentResponse, 0, len(docs))
			for _, doc := range docs {
				out = append(out, toDocumentResponse(doc))
			}
			responses.WriteSuccess(w, out)
			return
		}
		doc, err := store.Get(r.Context(), path)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, documentError(err))
			return
		}
		responses.WriteSuccess(w, toDocumentResponse(doc))
	}
}

// DocumentPut replaces a document, or merges into it with ?merge=true.
func DocumentPut(storeFor StoreFor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merge, err := validators.ParseQueryBool(r, "merge", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		data, err := validators.DecodeDocument(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var opts []docstore.SetOption
		if merge {
			opts = append(opts, docstore.Merge())
		}
		path := documentPath(r)
		if err := storeFor(middleware.IdentityFromContext(r.Context())).Set(r.Context(), path, data, opts...); err != nil {
			responses.WriteError(r.Context(), logg, w, documentError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DocumentPatch updates fields of an existing document.
func DocumentPatch(storeFor StoreFor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := validators.DecodeDocument(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := storeFor(middleware.IdentityFromContext(r.Context())).Update(r.Context(), documentPath(r), data); err != nil {
			responses.WriteError(r.Context(), logg, w, documentError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DocumentPost adds a document with a generated id to a collection.
func DocumentPost(storeFor StoreFor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := validators.DecodeDocument(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		path := documentPath(r)
		id, err := storeFor(middleware.IdentityFromContext(r.Context())).Add(r.Context(), path, data)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, documentError(err))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"id": id, "path": docstore.Join(path, id)})
	}
}

func DocumentDelete(storeFor StoreFor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := storeFor(middleware.IdentityFromContext(r.Context())).Delete(r.Context(), documentPath(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, documentError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func documentError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "document not found")
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrUnsupportedValue):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "document store")
}
