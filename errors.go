package manifest

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a node id or leaf reference has no content
// in the store. Persist implementations wrap it so callers can tell a
// missing optional parent from a corrupted store.
var ErrNotFound = errors.New("node not found")

// ConflictError reports that two or more parents disagree on the entry
// at Path (different leaf payloads, or a file in one and a directory
// in another) and the commit supplies no Change there to settle it.
// Derivation fails closed rather than guessing.
type ConflictError struct {
	Path Path
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict at %q: parents disagree and no change overrides", e.Path)
}

// InvalidChangesError reports a change set that cannot express a
// single coherent tree: one path is a strict prefix of another, or the
// same path appears twice. Detected before any traversal begins.
type InvalidChangesError struct {
	Path     Path
	Conflict Path
}

func (e *InvalidChangesError) Error() string {
	if e.Path.Equal(e.Conflict) {
		return fmt.Sprintf("invalid changes: duplicate path %q", e.Path)
	}
	return fmt.Sprintf("invalid changes: %q is a prefix of %q", e.Path, e.Conflict)
}
