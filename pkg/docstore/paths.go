package docstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Split returns the non-empty segments of path.
func Split(path string) []string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ID returns the last segment of path.
func ID(path string) string {
	segs := Split(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the path one level up: a collection for a document path, a
// document (or "" at the root) for a collection path.
func Parent(path string) string {
	segs := Split(path)
	if len(segs) <= 1 {
		return ""
	}
	return Join(segs[:len(segs)-1]...)
}

func IsDocument(path string) bool {
	segs := Split(path)
	return len(segs) > 0 && len(segs)%2 == 0
}

func IsCollection(path string) bool {
	return len(Split(path))%2 == 1
}

func ValidateDocument(path string) error {
	if err := validateSegments(path); err != nil {
		return err
	}
	if !IsDocument(path) {
		return fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, path)
	}
	return nil
}

func ValidateCollection(path string) error {
	if err := validateSegments(path); err != nil {
		return err
	}
	if !IsCollection(path) {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, path)
	}
	return nil
}

func validateSegments(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(trimmed, "/") || strings.HasSuffix(trimmed, "/") {
		return fmt.Errorf("%w: %q has leading or trailing slash", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidPath, path)
		}
		if strings.HasPrefix(seg, "__") && strings.HasSuffix(seg, "__") {
			return fmt.Errorf("%w: segment %q is reserved", ErrInvalidPath, seg)
		}
	}
	return nil
}

// Match reports whether path matches pattern segment by segment. Pattern
// segments written as {name} capture the path segment under name.
func Match(pattern, path string) (map[string]string, bool) {
	ps := Split(pattern)
	segs := Split(path)
	if len(ps) != len(segs) {
		return nil, false
	}
	params := map[string]string{}
	for i, p := range ps {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			params[p[1:len(p)-1]] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return params, true
}

// NewID returns a generated document id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
