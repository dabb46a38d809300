package grove

import (
	"context"
	"encoding/json"
	"fmt"
)

// CommitInfo is caller-supplied metadata attached to new commits. It
// is stored with the commit (and so participates in its key) but is
// not otherwise interpreted.
type CommitInfo struct {
	Author  string
	Message string
}

// Commit is an immutable snapshot: the key of a tree (zero for an
// empty snapshot) plus the keys of zero or more parent commits.
// Commit keys are digests of the commit's content, so identical
// (tree, parents, info) inputs collapse to the same key, and the
// parent links can never form a cycle.
type Commit struct {
	Tree    Key   `json:",omitempty"`
	Parents []Key `json:",omitempty"`
	Author  string
	Message string
}

// Commit writes a new commit for the given tree and parents,
// returning its key. The write is idempotent.
func (db *DB) Commit(ctx context.Context, t Tree, parents []Key, info CommitInfo) (Key, error) {
	c := Commit{
		Tree:    t.Key(),
		Parents: parents,
		Author:  info.Author,
		Message: info.Message,
	}
	encoded, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("marshal commit: %w", err)
	}
	key, err := db.PutObject(ctx, encoded)
	if err != nil {
		return "", fmt.Errorf("store commit: %w", err)
	}
	if db.nodeCache != nil {
		db.nodeCache.Add(key, &c)
	}
	return key, nil
}

// LoadCommit resolves a commit key. A key that doesn't resolve yields
// a DanglingError.
func (db *DB) LoadCommit(ctx context.Context, key Key) (*Commit, error) {
	if db.nodeCache != nil {
		if cached, ok := db.nodeCache.Get(key); ok {
			if c, ok := cached.(*Commit); ok {
				return c, nil
			}
		}
	}
	b, err := db.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	var c Commit
	err = json.Unmarshal(b, &c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal commit %s: %w", key, err)
	}
	if db.nodeCache != nil {
		db.nodeCache.Add(key, &c)
	}
	return &c, nil
}

// Parents resolves the parents of the given commit. A parent key that
// doesn't resolve yields a DanglingError; parents are never silently
// skipped.
func (db *DB) Parents(ctx context.Context, key Key) ([]*Commit, error) {
	c, err := db.LoadCommit(ctx, key)
	if err != nil {
		return nil, err
	}
	parents := make([]*Commit, len(c.Parents))
	for i, p := range c.Parents {
		parents[i], err = db.LoadCommit(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("parent %d of %s: %w", i, key, err)
		}
	}
	return parents, nil
}

// IsAncestor indicates whether commit a is reachable from commit b by
// following parent links zero or more times. Every commit is an
// ancestor of itself.
func (db *DB) IsAncestor(ctx context.Context, a, b Key) (bool, error) {
	if a == "" || b == "" {
		return false, nil
	}
	visited := map[Key]struct{}{}
	frontier := []Key{b}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		key := frontier[0]
		frontier = frontier[1:]
		if key == a {
			return true, nil
		}
		if _, ok := visited[key]; ok {
			continue
		}
		visited[key] = struct{}{}
		c, err := db.LoadCommit(ctx, key)
		if err != nil {
			return false, err
		}
		frontier = append(frontier, c.Parents...)
	}
	return false, nil
}
