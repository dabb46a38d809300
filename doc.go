/*
Package grove provides an embeddable, content-addressable versioned
store with a Git-like data model: immutable Merkle trees of arbitrary
values, commits forming a history DAG, mutable watchable branches,
three-way merges based on lowest common ancestors, and fetch/push/pull
synchronization between stores.

Grove is generic over value types, hash functions and storage: trees
and commits can be stored in anything, like a filesystem, KV store,
or blob store, through a tiny Persist interface. Because every
object's name is a digest of its content, identical writes are
idempotent and stores can be shared safely by concurrent readers and
writers.

Uses

- Versioned materialized views with cheap branching and merging

- Replicating structured state between hosts over dumb storage

- Copy-on-write alternative to Go builtin maps, with history

Data model

A Tree is an immutable mapping from paths (slices of string steps) to
values. Updating a tree yields a new tree sharing every unaffected
subtree with the original, so consecutive versions are cheap. A Commit
pairs a tree with zero or more parent commits; since commit names are
digests of their content, the history forms an append-only DAG. A
branch is a mutable name for a commit, updated with compare-and-set
semantics: a losing writer observes ErrAborted and recomputes against
the new head.

Merging

Merge integrates one branch's history into another. When neither head
is an ancestor of the other, grove finds the lowest common ancestors
of the two heads and performs a three-way merge of the trees; values
that changed on both sides are reconciled by a caller-supplied
Resolver. Merges are all-or-nothing: any unresolved path aborts the
whole merge with a ConflictError naming every conflicting path.

Synchronization

Fetch, Push and Pull move the missing object closure between two
stores. Content addressing turns "what is missing" into a presence
check by key, so already-present history is never re-transferred, and
branch heads only move after the closure has fully arrived.

Inspiration

The design follows the storage model of Git, and of Irmin
(https://irmin.org), which showed how far a content-addressed heap
plus a handful of mutable references can be pushed as a
general-purpose building block.
*/
package grove
