package firestore

import (
	"errors"
	"testing"

	gfs "cloud.google.com/go/firestore"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRelativePath(t *testing.T) {
	full := "projects/demo/databases/(default)/documents/carts/alice/items/lemon"
	assert.Equal(t, "carts/alice/items/lemon", relativePath(full))
	assert.Equal(t, "carts/alice", relativePath("carts/alice"))
}

func TestToUpdatesSortedTopLevelFields(t *testing.T) {
	updates, err := toUpdates(map[string]any{"totalPrice": 9.98, "itemCount": 2})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, gfs.FieldPath{"itemCount"}, updates[0].FieldPath)
	assert.Equal(t, int64(2), updates[0].Value)
	assert.Equal(t, gfs.FieldPath{"totalPrice"}, updates[1].FieldPath)

	_, err = toUpdates(map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedValue)
}

func TestSetOptions(t *testing.T) {
	assert.Nil(t, setOptions(nil))
	assert.Len(t, setOptions([]docstore.SetOption{docstore.Merge()}), 1)
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError("get", "carts/a", nil))
	assert.ErrorIs(t, mapError("update", "carts/a", status.Error(codes.NotFound, "no doc")), docstore.ErrNotFound)
	assert.ErrorIs(t, mapError("transaction", "", status.Error(codes.Aborted, "contention")), docstore.ErrAborted)
	assert.ErrorIs(t, mapError("tx get", "carts/a", errors.New("firestore: read after write in transaction")), docstore.ErrReadAfterWrite)

	unavailable := status.Error(codes.Unavailable, "down")
	err := mapError("get", "carts/a", unavailable)
	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
}

func TestMapErrorKeepsStatus(t *testing.T) {
	cases := map[codes.Code]error{
		codes.NotFound: docstore.ErrNotFound,
		codes.Aborted:  docstore.ErrAborted,
	}
	for code, sentinel := range cases {
		t.Run(code.String(), func(t *testing.T) {
			cause := status.Error(code, "rpc failed")
			err := mapError("transaction", "carts/a", cause)
			assert.ErrorIs(t, err, sentinel)
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, code, status.Code(err))
		})
	}
}

func TestFromFirestoreNormalizesNumbers(t *testing.T) {
	out := fromFirestore(map[string]any{"price": 4.99, "quantity": int64(2)})
	assert.Equal(t, 4.99, out["price"])
	assert.Equal(t, int64(2), out["quantity"])
}
