// Package docstore defines the document database boundary used by the cart
// service, the ownership policy and the aggregator. Two implementations
// exist: memstore for local runs and tests, and the Firestore adapter.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Update when the target document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAborted is returned when a transaction lost a conflict and ran out of attempts.
	ErrAborted = errors.New("transaction aborted")
	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrUnsupportedValue is returned when a field value cannot be stored.
	ErrUnsupportedValue = errors.New("unsupported field value")
	// ErrReadAfterWrite is returned when a transaction reads after it has written.
	ErrReadAfterWrite = errors.New("transaction reads must precede writes")
)

// Document is a point-in-time snapshot of a stored document. A document that
// does not exist is reported with Exists=false and nil Data.
type Document struct {
	Path       string
	ID         string
	Data       map[string]any
	Exists     bool
	UpdateTime time.Time
}

// Missing returns the snapshot of an absent document at path.
func Missing(path string) *Document {
	return &Document{Path: path, ID: ID(path)}
}

// Field returns the top-level field value.
func (d *Document) Field(name string) (any, bool) {
	if d == nil || !d.Exists || d.Data == nil {
		return nil, false
	}
	v, ok := d.Data[name]
	return v, ok
}

// String returns the field as a string, or "" if absent or not a string.
func (d *Document) String(name string) string {
	v, _ := d.Field(name)
	s, _ := v.(string)
	return s
}

// Clone deep-copies the snapshot.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Data = CloneData(d.Data)
	return &out
}

type ChangeKind int

const (
	ChangeCreated ChangeKind = iota + 1
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change describes one committed document write. Before and After are nil
// when the document did not exist on that side of the write.
type Change struct {
	Path   string
	Before *Document
	After  *Document
	Time   time.Time
}

func (c Change) Kind() ChangeKind {
	switch {
	case c.Before == nil && c.After != nil:
		return ChangeCreated
	case c.Before != nil && c.After == nil:
		return ChangeDeleted
	default:
		return ChangeUpdated
	}
}

type SetOptions struct {
	Merge bool
}

type SetOption func(*SetOptions)

// Merge makes Set merge the given fields into the existing document instead
// of replacing it.
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Unsubscribe stops a live listener. It is safe to call more than once.
type Unsubscribe func()

// DocumentListener receives the latest snapshot of a watched document.
type DocumentListener func(doc *Document, err error)

// CollectionListener receives the latest full contents of a watched collection.
type CollectionListener func(docs []*Document, err error)

// Reader is the read side shared by stores and transactions.
type Reader interface {
	Get(ctx context.Context, path string) (*Document, error)
	List(ctx context.Context, collectionPath string) ([]*Document, error)
}

// Writer is the write side shared by stores and transactions.
type Writer interface {
	Set(ctx context.Context, path string, data map[string]any, opts ...SetOption) error
	Update(ctx context.Context, path string, data map[string]any) error
	Delete(ctx context.Context, path string) error
}

// Tx is a transaction handle. All reads must happen before the first write.
type Tx interface {
	Reader
	Writer
}

// TxFunc is run by RunTransaction; it may be invoked more than once.
type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	Reader
	Writer
	Add(ctx context.Context, collectionPath string, data map[string]any) (string, error)
	RunTransaction(ctx context.Context, fn TxFunc) error
	WatchDocument(ctx context.Context, path string, fn DocumentListener) (Unsubscribe, error)
	WatchCollection(ctx context.Context, collectionPath string, fn CollectionListener) (Unsubscribe, error)
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}
