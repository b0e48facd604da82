package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gfs "cloud.google.com/go/firestore"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ docstore.Store = (*Client)(nil)

func (c *Client) doc(path string) (*gfs.DocumentRef, error) {
	if err := docstore.ValidateDocument(path); err != nil {
		return nil, err
	}
	ref := c.fs.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return ref, nil
}

func (c *Client) collection(path string) (*gfs.CollectionRef, error) {
	if err := docstore.ValidateCollection(path); err != nil {
		return nil, err
	}
	ref := c.fs.Collection(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return ref, nil
}

func (c *Client) Get(ctx context.Context, path string) (*docstore.Document, error) {
	ref, err := c.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return docstore.Missing(path), nil
		}
		return nil, mapError("get", path, err)
	}
	return toDocument(snap), nil
}

func (c *Client) List(ctx context.Context, collectionPath string) ([]*docstore.Document, error) {
	col, err := c.collection(collectionPath)
	if err != nil {
		return nil, err
	}
	return collect(col.Documents(ctx), collectionPath)
}

func (c *Client) Set(ctx context.Context, path string, data map[string]any, opts ...docstore.SetOption) error {
	ref, err := c.doc(path)
	if err != nil {
		return err
	}
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, normalized, setOptions(opts)...); err != nil {
		return mapError("set", path, err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, path string, data map[string]any) error {
	ref, err := c.doc(path)
	if err != nil {
		return err
	}
	updates, err := toUpdates(data)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return mapError("update", path, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	ref, err := c.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return mapError("delete", path, err)
	}
	return nil
}

func (c *Client) Add(ctx context.Context, collectionPath string, data map[string]any) (string, error) {
	col, err := c.collection(collectionPath)
	if err != nil {
		return "", err
	}
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return "", err
	}
	ref, _, err := col.Add(ctx, normalized)
	if err != nil {
		return "", mapError("add", collectionPath, err)
	}
	return ref.ID, nil
}

func (c *Client) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	var opts []gfs.TransactionOption
	if c.maxAttempts > 0 {
		opts = append(opts, gfs.MaxAttempts(c.maxAttempts))
	}
	err := c.fs.RunTransaction(ctx, func(ctx context.Context, tx *gfs.Transaction) error {
		return fn(ctx, &transaction{client: c, tx: tx})
	}, opts...)
	if err != nil {
		return mapError("transaction", "", err)
	}
	return nil
}

type transaction struct {
	client *Client
	tx     *gfs.Transaction
}

func (t *transaction) Get(_ context.Context, path string) (*docstore.Document, error) {
	ref, err := t.client.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return docstore.Missing(path), nil
		}
		return nil, mapError("tx get", path, err)
	}
	return toDocument(snap), nil
}

func (t *transaction) List(_ context.Context, collectionPath string) ([]*docstore.Document, error) {
	col, err := t.client.collection(collectionPath)
	if err != nil {
		return nil, err
	}
	return collect(t.tx.Documents(col), collectionPath)
}

func (t *transaction) Set(_ context.Context, path string, data map[string]any, opts ...docstore.SetOption) error {
	ref, err := t.client.doc(path)
	if err != nil {
		return err
	}
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return err
	}
	return mapError("tx set", path, t.tx.Set(ref, normalized, setOptions(opts)...))
}

func (t *transaction) Update(_ context.Context, path string, data map[string]any) error {
	ref, err := t.client.doc(path)
	if err != nil {
		return err
	}
	updates, err := toUpdates(data)
	if err != nil {
		return err
	}
	return mapError("tx update", path, t.tx.Update(ref, updates))
}

func (t *transaction) Delete(_ context.Context, path string) error {
	ref, err := t.client.doc(path)
	if err != nil {
		return err
	}
	return mapError("tx delete", path, t.tx.Delete(ref))
}

func setOptions(opts []docstore.SetOption) []gfs.SetOption {
	if docstore.ApplySetOptions(opts).Merge {
		return []gfs.SetOption{gfs.MergeAll}
	}
	return nil
}

// toUpdates replaces whole top-level fields, matching docstore.ApplyUpdate.
func toUpdates(data map[string]any) ([]gfs.Update, error) {
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	updates := make([]gfs.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, gfs.Update{FieldPath: gfs.FieldPath{k}, Value: normalized[k]})
	}
	return updates, nil
}

func collect(iter *gfs.DocumentIterator, collectionPath string) ([]*docstore.Document, error) {
	defer iter.Stop()
	var docs []*docstore.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapError("list", collectionPath, err)
		}
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

func toDocument(snap *gfs.DocumentSnapshot) *docstore.Document {
	path := relativePath(snap.Ref.Path)
	if !snap.Exists() {
		return docstore.Missing(path)
	}
	return &docstore.Document{
		Path:       path,
		ID:         snap.Ref.ID,
		Data:       fromFirestore(snap.Data()),
		Exists:     true,
		UpdateTime: snap.UpdateTime,
	}
}

func fromFirestore(data map[string]any) map[string]any {
	if normalized, err := docstore.Normalize(data); err == nil {
		return normalized
	}
	// geo points and references are passed through untouched
	return data
}

// relativePath strips the "projects/{p}/databases/{d}/documents/" prefix.
func relativePath(full string) string {
	const marker = "/documents/"
	if i := strings.Index(full, marker); i >= 0 {
		return full[i+len(marker):]
	}
	return full
}

func mapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrAborted) ||
		errors.Is(err, docstore.ErrInvalidPath) || errors.Is(err, docstore.ErrUnsupportedValue) {
		return err
	}
	if strings.Contains(err.Error(), "read after write") {
		return fmt.Errorf("%s %s: %w", op, path, docstore.ErrReadAfterWrite)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrNotFound, err)
	case codes.Aborted:
		return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrAborted, err)
	}
	return fmt.Errorf("firestore %s %s: %w", op, path, err)
}
