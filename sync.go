package grove

import (
	"context"
	"encoding/json"
	"fmt"
)

// Remote is a store reachable for synchronization: it can report a
// named branch's head, apply a compare-and-set update to it, and
// exchange immutable objects by key. NewStoreRemote adapts any DB;
// other implementations can put a network between the two.
type Remote interface {
	// Head returns the commit key the named branch points at, or the
	// zero key if the branch doesn't exist.
	Head(ctx context.Context, name string) (Key, error)
	// CompareAndSetHead updates the named branch with the same
	// semantics as DB.CompareAndSetBranch.
	CompareAndSetHead(ctx context.Context, name string, expected, head Key) error
	// Has indicates whether the object with the given key is present.
	Has(ctx context.Context, key Key) (bool, error)
	// Load retrieves the serialized object with the given key.
	Load(ctx context.Context, key Key) ([]byte, error)
	// Store makes the given bytes accessible by the given key, which
	// must be their digest.
	Store(ctx context.Context, key Key, value []byte) error
}

type storeRemote struct {
	db *DB
}

// NewStoreRemote makes a DB usable as the remote side of Fetch, Push
// and Pull, e.g. two DBs over different Persists in one process.
func NewStoreRemote(db *DB) Remote {
	return storeRemote{db}
}

func (r storeRemote) Head(ctx context.Context, name string) (Key, error) {
	head, _ := r.db.BranchHead(name)
	return head, nil
}

func (r storeRemote) CompareAndSetHead(ctx context.Context, name string, expected, head Key) error {
	return r.db.CompareAndSetBranch(ctx, name, expected, head)
}

func (r storeRemote) Has(ctx context.Context, key Key) (bool, error) {
	return r.db.HasObject(ctx, key)
}

func (r storeRemote) Load(ctx context.Context, key Key) ([]byte, error) {
	return r.db.GetObject(ctx, key)
}

func (r storeRemote) Store(ctx context.Context, key Key, value []byte) error {
	stored, err := r.db.PutObject(ctx, value)
	if err != nil {
		return err
	}
	if stored != key {
		return fmt.Errorf("stored %s as %s: digest mismatch", key, stored)
	}
	return nil
}

// Fetch transfers the commits, tree nodes and values reachable from
// the remote's head for the named branch but missing locally, and
// returns that head. Traversal stops at objects already present
// locally, and after depth commits along any parent chain (0 means
// unbounded). No local branch moves; returns the zero key without
// transferring anything when the remote head is already fully present
// (or the remote branch doesn't exist).
func (db *DB) Fetch(ctx context.Context, remote Remote, name string, depth int) (Key, error) {
	head, err := remote.Head(ctx, name)
	if err != nil {
		return "", TransferError{"fetch " + name, err}
	}
	if head == "" {
		return "", nil
	}
	has, err := db.HasObject(ctx, head)
	if err != nil {
		return "", err
	}
	if has {
		return "", nil
	}
	err = db.fetchClosure(ctx, remote, head, depth)
	if err != nil {
		return "", err
	}
	return head, nil
}

type commitHop struct {
	key   Key
	depth int
}

func (db *DB) fetchClosure(ctx context.Context, remote Remote, head Key, depth int) error {
	frontier := []commitHop{{head, 1}}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return TransferError{"fetch", err}
		}
		hop := frontier[0]
		frontier = frontier[1:]
		has, err := db.HasObject(ctx, hop.key)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		b, err := db.fetchObject(ctx, remote, hop.key)
		if err != nil {
			return err
		}
		var c Commit
		err = json.Unmarshal(b, &c)
		if err != nil {
			return TransferError{"fetch", fmt.Errorf("unmarshal commit %s: %w", hop.key, err)}
		}
		// The tree closure lands before the commit naming it, so an
		// aborted transfer never leaves a commit without its snapshot.
		err = db.fetchTree(ctx, remote, c.Tree)
		if err != nil {
			return err
		}
		_, err = db.PutObject(ctx, b)
		if err != nil {
			return err
		}
		if depth == 0 || hop.depth < depth {
			for _, parent := range c.Parents {
				frontier = append(frontier, commitHop{parent, hop.depth + 1})
			}
		}
	}
	return nil
}

func (db *DB) fetchTree(ctx context.Context, remote Remote, link Key) error {
	if link == "" {
		return nil
	}
	has, err := db.HasObject(ctx, link)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	b, err := db.fetchObject(ctx, remote, link)
	if err != nil {
		return err
	}
	var node treeNode
	err = json.Unmarshal(b, &node)
	if err != nil {
		return TransferError{"fetch", fmt.Errorf("unmarshal node %s: %w", link, err)}
	}
	for _, child := range node.Link {
		if err := ctx.Err(); err != nil {
			return TransferError{"fetch", err}
		}
		if child == "" {
			continue
		}
		err = db.fetchTree(ctx, remote, Key(child))
		if err != nil {
			return err
		}
	}
	_, err = db.PutObject(ctx, b)
	return err
}

func (db *DB) fetchObject(ctx context.Context, remote Remote, key Key) ([]byte, error) {
	b, err := remote.Load(ctx, key)
	if err != nil {
		return nil, TransferError{"fetch", err}
	}
	if db.digest(b) != key {
		return nil, TransferError{"fetch", fmt.Errorf("object %s: digest mismatch", key)}
	}
	return b, nil
}

// Push transfers the local head of the named branch, and every object
// reachable from it that the remote is missing, then moves the
// remote's branch by compare-and-set. The remote branch is only
// updated if it hasn't moved since Push read it and the local head
// descends from it; otherwise Push fails with ErrAborted and the
// remote branches are untouched. Fetch first to integrate remote
// history.
func (db *DB) Push(ctx context.Context, remote Remote, name string) error {
	head, ok := db.BranchHead(name)
	if !ok {
		return fmt.Errorf("push: no branch %q", name)
	}
	remoteHead, err := remote.Head(ctx, name)
	if err != nil {
		return TransferError{"push " + name, err}
	}
	if remoteHead == head {
		return nil
	}
	if remoteHead != "" {
		has, err := db.HasObject(ctx, remoteHead)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("push %q: remote head %s unknown locally: %w", name, remoteHead, ErrAborted)
		}
		fastForward, err := db.IsAncestor(ctx, remoteHead, head)
		if err != nil {
			return err
		}
		if !fastForward {
			return fmt.Errorf("push %q: not a fast-forward: %w", name, ErrAborted)
		}
	}
	err = db.pushClosure(ctx, remote, head)
	if err != nil {
		return err
	}
	err = remote.CompareAndSetHead(ctx, name, remoteHead, head)
	if err != nil {
		return fmt.Errorf("push %q: %w", name, err)
	}
	return nil
}

func (db *DB) pushClosure(ctx context.Context, remote Remote, head Key) error {
	frontier := []Key{head}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return TransferError{"push", err}
		}
		key := frontier[0]
		frontier = frontier[1:]
		has, err := remote.Has(ctx, key)
		if err != nil {
			return TransferError{"push", err}
		}
		if has {
			continue
		}
		c, err := db.LoadCommit(ctx, key)
		if err != nil {
			return err
		}
		err = db.pushTree(ctx, remote, c.Tree)
		if err != nil {
			return err
		}
		err = db.pushObject(ctx, remote, key)
		if err != nil {
			return err
		}
		frontier = append(frontier, c.Parents...)
	}
	return nil
}

func (db *DB) pushTree(ctx context.Context, remote Remote, link Key) error {
	if link == "" {
		return nil
	}
	has, err := remote.Has(ctx, link)
	if err != nil {
		return TransferError{"push", err}
	}
	if has {
		return nil
	}
	node, err := db.loadTreeNode(ctx, link)
	if err != nil {
		return err
	}
	for _, child := range node.Link {
		if err := ctx.Err(); err != nil {
			return TransferError{"push", err}
		}
		if child == "" {
			continue
		}
		err = db.pushTree(ctx, remote, Key(child))
		if err != nil {
			return err
		}
	}
	return db.pushObject(ctx, remote, link)
}

func (db *DB) pushObject(ctx context.Context, remote Remote, key Key) error {
	b, err := db.GetObject(ctx, key)
	if err != nil {
		return err
	}
	err = remote.Store(ctx, key, b)
	if err != nil {
		return TransferError{"push", err}
	}
	return nil
}

// PullStrategy selects how Pull integrates a fetched head into the
// local branch.
type PullStrategy int

const (
	// MergePull merges the fetched head into the local branch,
	// preserving local-only history.
	MergePull PullStrategy = iota
	// UpdatePull force-sets the local branch to the fetched head,
	// discarding local-only history.
	UpdatePull
)

// Pull fetches the named branch from the remote and integrates its
// head locally per the given strategy. A remote branch that doesn't
// exist is a no-op.
func (db *DB) Pull(ctx context.Context, remote Remote, name string, depth int, strategy PullStrategy, info CommitInfo, resolve Resolver) error {
	head, err := remote.Head(ctx, name)
	if err != nil {
		return TransferError{"pull " + name, err}
	}
	if head == "" {
		return nil
	}
	has, err := db.HasObject(ctx, head)
	if err != nil {
		return err
	}
	if !has {
		err = db.fetchClosure(ctx, remote, head, depth)
		if err != nil {
			return err
		}
	}
	switch strategy {
	case MergePull:
		return db.MergeCommit(ctx, head, name, info, resolve)
	case UpdatePull:
		return db.SetBranch(ctx, name, head)
	default:
		return fmt.Errorf("pull: unknown strategy %d", strategy)
	}
}
