// Package trigger delivers document change events to handlers registered
// by path pattern, from in-process store hooks, Firestore listeners or a
// Pub/Sub subscription.
package trigger

import (
	"time"

	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/google/uuid"
)

// Sources label deliveries in logs and metrics.
const (
	SourceLocal     = "local"
	SourcePubSub    = "pubsub"
	SourceFirestore = "firestore"
)

// Event is one document write as seen by a handler. Before and After are
// nil when the document did not exist on that side of the write. Params
// holds the placeholders captured by the handler's pattern.
type Event struct {
	ID     string
	Path   string
	Params map[string]string
	Before *docstore.Document
	After  *docstore.Document
	Time   time.Time
	Source string
}

// NewEvent wraps a committed change.
func NewEvent(id, source string, change docstore.Change) Event {
	return Event{
		ID:     id,
		Path:   change.Path,
		Before: change.Before,
		After:  change.After,
		Time:   change.Time,
		Source: source,
	}
}

func (e Event) Change() docstore.Change {
	return docstore.Change{Path: e.Path, Before: e.Before, After: e.After, Time: e.Time}
}

func (e Event) Kind() docstore.ChangeKind {
	return e.Change().Kind()
}

// Param returns a captured path placeholder.
func (e Event) Param(name string) string {
	return e.Params[name]
}

var eventNamespace = uuid.MustParse("6f1d3a52-2f0c-4d55-9a53-3c6b7e1f0a11")

// EventIDFor derives a stable id from the change path, kind and commit time
// so that the same write observed twice maps to one id.
func EventIDFor(change docstore.Change) string {
	key := change.Path + "|" + change.Kind().String() + "|" + change.Time.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}
