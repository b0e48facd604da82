package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/firebase/emulators-codelab/api/middleware"
	"github.com/firebase/emulators-codelab/api/responses"
	"github.com/firebase/emulators-codelab/internal/view"
	"github.com/firebase/emulators-codelab/pkg/auth"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

// ViewOpener starts a storefront view bound to identity. The caller closes it.
type ViewOpener func(ctx context.Context, identity *auth.Identity) (*view.View, error)

const (
	viewReadyTimeout = 5 * time.Second
	streamKeepAlive  = 25 * time.Second
)

// CartView returns one rendering of the storefront for the caller.
func CartView(open ViewOpener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := open(r.Context(), middleware.IdentityFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open view"))
			return
		}
		defer v.Close()

		ctx, cancel := context.WithTimeout(r.Context(), viewReadyTimeout)
		defer cancel()
		st, err := v.WaitReady(ctx)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "view not ready"))
			return
		}
		responses.WriteSuccess(w, st)
	}
}

// CartViewStream pushes every new rendering as a server-sent event until the
// client disconnects.
func CartViewStream(open ViewOpener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}
		ctx := r.Context()
		v, err := open(ctx, middleware.IdentityFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open view"))
			return
		}
		defer v.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		// Changed is taken before State so no update between them is lost.
		changed := v.Changed()
		st := v.State()
		for {
			if err := writeEvent(w, st); err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "view.stream_write_failed")
				}
				return
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					return
				case <-keepAlive.C:
					if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
						return
					}
					flusher.Flush()
				case <-changed:
					break wait
				}
			}
			changed = v.Changed()
			next := v.State()
			if next.Version == st.Version {
				// closed view
				return
			}
			st = next
		}
	}
}

func writeEvent(w http.ResponseWriter, st view.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", st.Version, payload)
	return err
}
