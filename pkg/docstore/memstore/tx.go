package memstore

import (
	"context"
	"fmt"

	"github.com/firebase/emulators-codelab/pkg/docstore"
)

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
)

type op struct {
	kind  opKind
	path  string
	data  map[string]any
	merge bool
}

func prepare(o op) (op, error) {
	if err := docstore.ValidateDocument(o.path); err != nil {
		return op{}, err
	}
	if o.kind == opDelete {
		return o, nil
	}
	data, err := docstore.Normalize(o.data)
	if err != nil {
		return op{}, fmt.Errorf("write %s: %w", o.path, err)
	}
	o.data = data
	return o, nil
}

type readSet struct {
	docs        map[string]uint64
	collections map[string]uint64
}

type tx struct {
	store  *Store
	reads  *readSet
	writes []op
}

func newTx(s *Store) *tx {
	return &tx{
		store: s,
		reads: &readSet{docs: map[string]uint64{}, collections: map[string]uint64{}},
	}
}

func (t *tx) Get(_ context.Context, path string) (*docstore.Document, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	if err := docstore.ValidateDocument(path); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	doc, version := t.store.readDocLocked(path)
	if seen, ok := t.reads.docs[path]; ok && seen != version {
		return nil, fmt.Errorf("%w: %s changed during transaction", docstore.ErrAborted, path)
	}
	t.reads.docs[path] = version
	return doc, nil
}

func (t *tx) List(_ context.Context, collectionPath string) ([]*docstore.Document, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	if err := docstore.ValidateCollection(collectionPath); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	docs, version := t.store.listLocked(collectionPath)
	if seen, ok := t.reads.collections[collectionPath]; ok && seen != version {
		return nil, fmt.Errorf("%w: %s changed during transaction", docstore.ErrAborted, collectionPath)
	}
	t.reads.collections[collectionPath] = version
	return docs, nil
}

func (t *tx) Set(_ context.Context, path string, data map[string]any, opts ...docstore.SetOption) error {
	o := docstore.ApplySetOptions(opts)
	return t.buffer(op{kind: opSet, path: path, data: data, merge: o.Merge})
}

func (t *tx) Update(_ context.Context, path string, data map[string]any) error {
	return t.buffer(op{kind: opUpdate, path: path, data: data})
}

func (t *tx) Delete(_ context.Context, path string) error {
	return t.buffer(op{kind: opDelete, path: path})
}

func (t *tx) buffer(o op) error {
	prepared, err := prepare(o)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, prepared)
	return nil
}
