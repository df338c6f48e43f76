package manifest

import (
	"fmt"
	"strings"
)

// PathElement is one segment of a path. Elements are opaque byte
// sequences: comparison is bytewise and case-sensitive, and the engine
// never interprets separators or encodings inside an element. An
// element is never empty.
type PathElement string

// Order returns -1, 0, or 1 as e sorts before, equal to, or after o.
// This bytewise order is the canonical child order inside every node.
func (e PathElement) Order(o PathElement) int {
	if e < o {
		return -1
	} else if e > o {
		return 1
	}
	return 0
}

// HasBytePrefix reports whether the element's bytes start with prefix.
func (e PathElement) HasBytePrefix(prefix []byte) bool {
	return strings.HasPrefix(string(e), string(prefix))
}

// Path is an ordered sequence of elements. The empty (nil) Path is the
// tree root.
type Path []PathElement

// ParsePath splits a slash-separated string into a Path. The empty
// string parses to the root. Empty elements ("a//b", leading or
// trailing slashes) are rejected.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	p := make(Path, len(parts))
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty element in path %q", s)
		}
		p[i] = PathElement(part)
	}
	return p, nil
}

// MustParsePath is ParsePath for statically-known paths; it panics on
// malformed input.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPath builds a Path from the given elements.
func NewPath(elements ...PathElement) (Path, error) {
	for _, e := range elements {
		if e == "" {
			return nil, fmt.Errorf("empty path element")
		}
	}
	return Path(elements), nil
}

// IsRoot reports whether p is the empty path.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Len returns the number of elements in p.
func (p Path) Len() int {
	return len(p)
}

// Child returns p extended by one element. The receiver is not
// modified.
func (p Path) Child(e PathElement) Path {
	q := make(Path, len(p)+1)
	copy(q, p)
	q[len(p)] = e
	return q
}

// Join returns the concatenation of p and q.
func (p Path) Join(q Path) Path {
	if len(q) == 0 {
		return p
	}
	r := make(Path, len(p)+len(q))
	copy(r, p)
	copy(r[len(p):], q)
	return r
}

// Split separates p into its directory and basename. Splitting the
// root returns (nil, "", false).
func (p Path) Split() (Path, PathElement, bool) {
	if len(p) == 0 {
		return nil, "", false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// IsPrefixOf reports whether q is p or a descendant of p. The root is
// a prefix of every path.
func (p Path) IsPrefixOf(q Path) bool {
	if len(p) > len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Equal reports element-wise equality.
func (p Path) Equal(q Path) bool {
	return len(p) == len(q) && p.IsPrefixOf(q)
}

// Order compares p and q element by element, shorter-is-less on ties.
// A parent always sorts before its descendants, consistent with
// depth-first enumeration order.
func (p Path) Order(q Path) int {
	n := len(p)
	if len(q) < n {
		n = len(q)
	}
	for i := 0; i < n; i++ {
		if cmp := p[i].Order(q[i]); cmp != 0 {
			return cmp
		}
	}
	if len(p) < len(q) {
		return -1
	} else if len(p) > len(q) {
		return 1
	}
	return 0
}

// String renders p slash-separated; the root renders as "".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		parts[i] = string(e)
	}
	return strings.Join(parts, "/")
}
