package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(s string) string { return s }

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	assert.Equal(t, 7, NormalizeLimit(7))
}

func TestPageWalksEveryItemOnce(t *testing.T) {
	items := []string{"lemon", "apple", "kiwi", "fig", "date"}

	var seen []string
	cursor := ""
	for i := 0; i < 10; i++ {
		page, next, err := Page(items, identity, Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		seen = append(seen, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"apple", "date", "fig", "kiwi", "lemon"}, seen)
	assert.Equal(t, []string{"lemon", "apple", "kiwi", "fig", "date"}, items)
}

func TestPageLastPageHasNoCursor(t *testing.T) {
	page, next, err := Page([]string{"b", "a"}, identity, Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page)
	assert.Empty(t, next)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	_, err := ParseCursor("%%%")
	assert.Error(t, err)
	_, err = ParseCursor(EncodeCursor("carts/x"))
	assert.Error(t, err)

	id, err := ParseCursor(EncodeCursor("lemon"))
	require.NoError(t, err)
	assert.Equal(t, "lemon", id)
}
