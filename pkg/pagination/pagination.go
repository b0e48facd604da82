package pagination

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many documents one page can hold.
	MaxLimit = 100
)

// Params holds cursor pagination inputs from controllers.
type Params struct {
	Limit  int
	Cursor string
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// EncodeCursor wraps the id of the last document on a page.
func EncodeCursor(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}

// ParseCursor returns the id a cursor points after. An empty cursor
// starts from the beginning.
func ParseCursor(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	if len(decoded) == 0 || strings.Contains(string(decoded), "/") {
		return "", fmt.Errorf("invalid cursor")
	}
	return string(decoded), nil
}

// Page orders items by id and returns the page after params.Cursor, plus
// the cursor of the following page or "" on the last one.
func Page[T any](items []T, id func(T) string, params Params) ([]T, string, error) {
	after, err := ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := NormalizeLimit(params.Limit)

	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return id(sorted[i]) < id(sorted[j]) })

	start := 0
	if after != "" {
		start = sort.Search(len(sorted), func(i int) bool { return id(sorted[i]) > after })
	}
	end := min(start+limit, len(sorted))
	page := sorted[start:end]
	if end < len(sorted) && len(page) > 0 {
		return page, EncodeCursor(id(page[len(page)-1])), nil
	}
	return page, "", nil
}
