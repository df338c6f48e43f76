/*
Package manifest derives, merges, and diffs content-addressed
directory trees ("manifests").  A manifest maps paths to leaf payloads
the way a commit's snapshot maps file paths to file contents, but the
engine is generic: the same machinery serves file-content trees,
path-existence skeletons, blame trees, or any other derived-data kind
that can present itself as a path-keyed tree.

A new manifest is derived from the manifests of a commit's parents plus
that commit's flat list of per-path changes.  Only the directories on
the changed paths are rebuilt; every untouched subtree is shared with a
parent by reference, so the cost of derivation is proportional to the
size of the change, not the size of the tree.  Merging N parents is
driven by the same per-path delta: parents that agree are shared,
parents that disagree are a conflict unless the commit's own change
overrides them.

Manifests can be huge (not limited to memory).  Nodes live in anything
that can store immutable blobs, like a filesystem, KV store, or blob
store, behind the Persist interface.  Store round-trips are the only
suspension points, and every traversal takes an explicit concurrency
limit, so callers control fan-out against their store.

Diffing two manifests short-circuits identical subtrees by comparing
their ids, like any Merkle structure: equal ids are taken to mean equal
contents.  That assumption is only as sound as the collision resistance
of whatever hash the concrete kind derives its ids from; the engine
never re-verifies it.

Concurrency

All values here are immutable once constructed.  Writes are keyed by
content, so two callers racing to derive the same subtree write the
same bytes and need no coordination.  A NodeCache can be shared between
any number of trees and traversals.
*/
package manifest
