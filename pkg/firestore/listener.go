package firestore

import (
	"context"
	"errors"
	"fmt"

	gfs "cloud.google.com/go/firestore"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ChangeHandler receives one change from a collection-group listener.
type ChangeHandler func(ctx context.Context, change docstore.Change) error

// ListenOptions configures ListenCollectionGroup.
type ListenOptions struct {
	// CollectionID is the last segment of the watched collections, e.g. "items".
	CollectionID string
	// Pattern filters changes by full document path, e.g. "carts/{cartId}/items/{itemId}".
	Pattern string
	// SkipInitial drops the changes of the first snapshot, which lists every
	// existing document as added.
	SkipInitial bool
}

// ListenCollectionGroup streams changes for every collection named
// opts.CollectionID and blocks until ctx is done. Listener changes carry no
// previous data: a modified document has a Before with Exists=true and nil
// Data, a removed one has Before set to its last snapshot.
func (c *Client) ListenCollectionGroup(ctx context.Context, opts ListenOptions, handle ChangeHandler) error {
	if opts.CollectionID == "" {
		return errors.New("collection id is required")
	}
	iter := c.fs.CollectionGroup(opts.CollectionID).Snapshots(ctx)
	defer iter.Stop()

	first := true
	for {
		qs, err := iter.Next()
		if err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("collection group %s listener: %w", opts.CollectionID, err)
		}
		if first && opts.SkipInitial {
			first = false
			continue
		}
		first = false

		for _, ch := range qs.Changes {
			change, ok := toChange(ch)
			if !ok {
				continue
			}
			if opts.Pattern != "" {
				if _, match := docstore.Match(opts.Pattern, change.Path); !match {
					continue
				}
			}
			if err := handle(ctx, change); err != nil {
				return err
			}
		}
	}
}

func toChange(ch gfs.DocumentChange) (docstore.Change, bool) {
	if ch.Doc == nil {
		return docstore.Change{}, false
	}
	doc := toDocument(ch.Doc)
	change := docstore.Change{Path: doc.Path, Time: ch.Doc.ReadTime}
	switch ch.Kind {
	case gfs.DocumentAdded:
		change.After = doc
	case gfs.DocumentModified:
		change.Before = &docstore.Document{Path: doc.Path, ID: doc.ID, Exists: true}
		change.After = doc
	case gfs.DocumentRemoved:
		change.Before = doc
	default:
		return docstore.Change{}, false
	}
	return change, true
}

func (c *Client) WatchDocument(ctx context.Context, path string, fn docstore.DocumentListener) (docstore.Unsubscribe, error) {
	ref, err := c.doc(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	iter := ref.Snapshots(ctx)
	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if !stopped(ctx, err) {
					fn(nil, mapError("watch", path, err))
				}
				return
			}
			if snap == nil || !snap.Exists() {
				fn(docstore.Missing(path), nil)
				continue
			}
			fn(toDocument(snap), nil)
		}
	}()
	return docstore.Unsubscribe(cancel), nil
}

func (c *Client) WatchCollection(ctx context.Context, collectionPath string, fn docstore.CollectionListener) (docstore.Unsubscribe, error) {
	col, err := c.collection(collectionPath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	iter := col.Snapshots(ctx)
	go func() {
		defer iter.Stop()
		for {
			qs, err := iter.Next()
			if err != nil {
				if !stopped(ctx, err) {
					fn(nil, mapError("watch", collectionPath, err))
				}
				return
			}
			docs, err := collect(qs.Documents, collectionPath)
			fn(docs, err)
		}
	}()
	return docstore.Unsubscribe(cancel), nil
}

func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || err == iterator.Done || status.Code(err) == codes.Canceled
}
