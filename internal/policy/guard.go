package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	pkgerrors "github.com/firebase/emulators-codelab/pkg/errors"
)

// Guard returns a store that evaluates the rules for identity before every
// operation on store. Denials are FORBIDDEN errors. A nil identity is an
// unauthenticated caller.
func (e *Engine) Guard(store docstore.Store, identity *auth.Identity) docstore.Store {
	return &guarded{engine: e, store: store, identity: identity}
}

type guarded struct {
	engine   *Engine
	store    docstore.Store
	identity *auth.Identity
}

var _ docstore.Store = (*guarded)(nil)

func (g *guarded) authorize(ctx context.Context, op Operation, path string, resource *docstore.Document, data map[string]any, fetch Fetcher) error {
	decision, err := g.engine.Evaluate(ctx, Request{
		Op:       op,
		Path:     path,
		Identity: g.identity,
		Resource: resource,
		Data:     data,
	}, fetch)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "evaluate access rules")
	}
	if !decision.Allowed {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s %s denied", op, path)).
			WithDetails(map[string]any{"reason": decision.Reason})
	}
	return nil
}

func (g *guarded) Get(ctx context.Context, path string) (*docstore.Document, error) {
	doc, err := g.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(ctx, OpRead, path, doc, nil, g.store.Get); err != nil {
		return nil, err
	}
	return doc, nil
}

func (g *guarded) List(ctx context.Context, collectionPath string) ([]*docstore.Document, error) {
	docs, err := g.store.List(ctx, collectionPath)
	if err != nil {
		return nil, err
	}
	if err := g.authorizeList(ctx, collectionPath, docs, g.store.Get); err != nil {
		return nil, err
	}
	return docs, nil
}

// authorizeList requires read access to every returned document. An empty
// collection is checked against a placeholder document so that rules which
// do not depend on the resource (public, parent_owner) still decide.
func (g *guarded) authorizeList(ctx context.Context, collectionPath string, docs []*docstore.Document, fetch Fetcher) error {
	if len(docs) == 0 {
		placeholder := docstore.Join(collectionPath, "__placeholder__")
		return g.authorize(ctx, OpRead, placeholder, docstore.Missing(placeholder), nil, fetch)
	}
	for _, doc := range docs {
		if err := g.authorize(ctx, OpRead, doc.Path, doc, nil, fetch); err != nil {
			return err
		}
	}
	return nil
}

// Set, Update and Delete read the current document, authorize and write
// inside one transaction, so a concurrent commit between the check and the
// write aborts the attempt and the retry is authorized against fresh data.
func (g *guarded) Set(ctx context.Context, path string, data map[string]any, opts ...docstore.SetOption) error {
	return g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := g.authorizeSet(ctx, tx.Get, path, data, opts); err != nil {
			return err
		}
		return tx.Set(ctx, path, data, opts...)
	})
}

// authorizeSet returns the document as it will be after the write.
func (g *guarded) authorizeSet(ctx context.Context, fetch Fetcher, path string, data map[string]any, opts []docstore.SetOption) (*docstore.Document, error) {
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return nil, err
	}
	current, err := fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	op, next := OpCreate, normalized
	if current.Exists {
		op, next = OpUpdate, docstore.ApplySet(current.Data, normalized, docstore.ApplySetOptions(opts).Merge)
	}
	if err := g.authorize(ctx, op, path, current, next, fetch); err != nil {
		return nil, err
	}
	return &docstore.Document{Path: path, ID: docstore.ID(path), Data: next, Exists: true}, nil
}

func (g *guarded) Update(ctx context.Context, path string, data map[string]any) error {
	return g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := g.authorizeUpdate(ctx, tx.Get, path, data); err != nil {
			return err
		}
		return tx.Update(ctx, path, data)
	})
}

func (g *guarded) authorizeUpdate(ctx context.Context, fetch Fetcher, path string, data map[string]any) (*docstore.Document, error) {
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return nil, err
	}
	current, err := fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if !current.Exists {
		return nil, fmt.Errorf("update %s: %w", path, docstore.ErrNotFound)
	}
	next := docstore.ApplyUpdate(current.Data, normalized)
	if err := g.authorize(ctx, OpUpdate, path, current, next, fetch); err != nil {
		return nil, err
	}
	return &docstore.Document{Path: path, ID: docstore.ID(path), Data: next, Exists: true}, nil
}

func (g *guarded) Delete(ctx context.Context, path string) error {
	return g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := g.authorizeDelete(ctx, tx.Get, path); err != nil {
			return err
		}
		return tx.Delete(ctx, path)
	})
}

func (g *guarded) authorizeDelete(ctx context.Context, fetch Fetcher, path string) error {
	current, err := fetch(ctx, path)
	if err != nil {
		return err
	}
	return g.authorize(ctx, OpDelete, path, current, nil, fetch)
}

func (g *guarded) Add(ctx context.Context, collectionPath string, data map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collectionPath); err != nil {
		return "", err
	}
	id := docstore.NewID()
	if err := g.Set(ctx, docstore.Join(collectionPath, id), data); err != nil {
		return "", err
	}
	return id, nil
}

// RunTransaction authorizes each transactional read and write. Write checks
// read through the transaction, so a document written by fn must either have
// been read by fn or be read before the first write.
func (g *guarded) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return fn(ctx, &guardedTx{guard: g, tx: tx, seen: map[string]*docstore.Document{}})
	})
}

func (g *guarded) WatchDocument(ctx context.Context, path string, fn docstore.DocumentListener) (docstore.Unsubscribe, error) {
	return g.store.WatchDocument(ctx, path, func(doc *docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		if err := g.authorize(ctx, OpRead, path, doc, nil, g.store.Get); err != nil {
			fn(nil, err)
			return
		}
		fn(doc, nil)
	})
}

func (g *guarded) WatchCollection(ctx context.Context, collectionPath string, fn docstore.CollectionListener) (docstore.Unsubscribe, error) {
	return g.store.WatchCollection(ctx, collectionPath, func(docs []*docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		if err := g.authorizeList(ctx, collectionPath, docs, g.store.Get); err != nil {
			fn(nil, err)
			return
		}
		fn(docs, nil)
	})
}

type guardedTx struct {
	guard *guarded
	tx    docstore.Tx
	// seen holds documents read through tx and the pending state of
	// documents this transaction has written.
	seen map[string]*docstore.Document
}

// lookup serves authorization reads from seen before falling back to tx.
func (t *guardedTx) lookup(ctx context.Context, path string) (*docstore.Document, error) {
	if doc, ok := t.seen[path]; ok {
		return doc, nil
	}
	doc, err := t.tx.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrReadAfterWrite) {
			return nil, fmt.Errorf("authorize %s: read it before the first write: %w", path, err)
		}
		return nil, err
	}
	t.seen[path] = doc
	return doc, nil
}

func (t *guardedTx) remember(doc *docstore.Document) {
	if _, ok := t.seen[doc.Path]; !ok {
		t.seen[doc.Path] = doc
	}
}

func (t *guardedTx) Get(ctx context.Context, path string) (*docstore.Document, error) {
	doc, err := t.tx.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	t.remember(doc)
	if err := t.guard.authorize(ctx, OpRead, path, doc, nil, t.lookup); err != nil {
		return nil, err
	}
	return doc, nil
}

func (t *guardedTx) List(ctx context.Context, collectionPath string) ([]*docstore.Document, error) {
	docs, err := t.tx.List(ctx, collectionPath)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		t.remember(doc)
	}
	if err := t.guard.authorizeList(ctx, collectionPath, docs, t.lookup); err != nil {
		return nil, err
	}
	return docs, nil
}

func (t *guardedTx) Set(ctx context.Context, path string, data map[string]any, opts ...docstore.SetOption) error {
	next, err := t.guard.authorizeSet(ctx, t.lookup, path, data, opts)
	if err != nil {
		return err
	}
	if err := t.tx.Set(ctx, path, data, opts...); err != nil {
		return err
	}
	t.seen[path] = next
	return nil
}

func (t *guardedTx) Update(ctx context.Context, path string, data map[string]any) error {
	next, err := t.guard.authorizeUpdate(ctx, t.lookup, path, data)
	if err != nil {
		return err
	}
	if err := t.tx.Update(ctx, path, data); err != nil {
		return err
	}
	t.seen[path] = next
	return nil
}

func (t *guardedTx) Delete(ctx context.Context, path string) error {
	if err := t.guard.authorizeDelete(ctx, t.lookup, path); err != nil {
		return err
	}
	if err := t.tx.Delete(ctx, path); err != nil {
		return err
	}
	t.seen[path] = docstore.Missing(path)
	return nil
}
