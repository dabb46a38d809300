package grove

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
)

// Resolver reconciles a value that changed differently on both sides
// of a merge. Any of ancestor, ours, theirs is nil when the path is
// absent on that side; a removal racing a modification arrives here
// too. Returning a nil value removes the path from the merged tree.
// Returning an error wrapping ErrConflict marks the path as
// unresolvable; any other error aborts the merge immediately.
type Resolver func(p Path, ancestor, ours, theirs interface{}) (interface{}, error)

// TakeOurs resolves every divergence in favor of the destination side.
func TakeOurs(p Path, ancestor, ours, theirs interface{}) (interface{}, error) {
	return ours, nil
}

// TakeTheirs resolves every divergence in favor of the source side.
func TakeTheirs(p Path, ancestor, ours, theirs interface{}) (interface{}, error) {
	return theirs, nil
}

func failResolver(p Path, ancestor, ours, theirs interface{}) (interface{}, error) {
	return nil, ErrConflict
}

// MergeBase returns the lowest common ancestors of two commits: their
// common ancestors that are not themselves ancestors of another
// common ancestor. Criss-cross histories can have several; they are
// returned in ascending key order. Commits with no shared history
// have none.
func (db *DB) MergeBase(ctx context.Context, a, b Key) ([]Key, error) {
	if a == "" || b == "" {
		return nil, nil
	}
	fromA := map[Key]struct{}{}
	frontier := []Key{a}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := frontier[0]
		frontier = frontier[1:]
		if _, ok := fromA[key]; ok {
			continue
		}
		fromA[key] = struct{}{}
		c, err := db.LoadCommit(ctx, key)
		if err != nil {
			return nil, err
		}
		frontier = append(frontier, c.Parents...)
	}

	// Expand from b, stopping at the first commit of each path that is
	// also reachable from a: anything beyond it is dominated.
	candidates := []Key{}
	seen := map[Key]struct{}{}
	frontier = []Key{b}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := frontier[0]
		frontier = frontier[1:]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := fromA[key]; ok {
			candidates = append(candidates, key)
			continue
		}
		c, err := db.LoadCommit(ctx, key)
		if err != nil {
			return nil, err
		}
		frontier = append(frontier, c.Parents...)
	}

	// A candidate reached along one path can still be an ancestor of a
	// candidate reached along another; keep only the lowest.
	lowest := []Key{}
	for i, c := range candidates {
		dominated := false
		for j, other := range candidates {
			if i == j {
				continue
			}
			isAncestor, err := db.IsAncestor(ctx, c, other)
			if err != nil {
				return nil, err
			}
			if isAncestor && c != other {
				dominated = true
				break
			}
		}
		if !dominated {
			lowest = append(lowest, c)
		}
	}
	sort.Slice(lowest, func(i, j int) bool { return lowest[i] < lowest[j] })
	return lowest, nil
}

// mergeAncestor reduces the common ancestors of a and b to a single
// commit to diff against. Multiple lowest common ancestors are merged
// recursively, in ascending key order, into synthetic ancestor
// commits, so the reduction is deterministic for a given DAG. Returns
// the zero key when the commits share no history.
func (db *DB) mergeAncestor(ctx context.Context, a, b Key, resolve Resolver) (Key, error) {
	bases, err := db.MergeBase(ctx, a, b)
	if err != nil {
		return "", err
	}
	if len(bases) == 0 {
		return "", nil
	}
	acc := bases[0]
	for _, next := range bases[1:] {
		anc, err := db.mergeAncestor(ctx, acc, next, resolve)
		if err != nil {
			return "", err
		}
		merged, err := db.mergeCommitTrees(ctx, anc, acc, next, resolve)
		if err != nil {
			return "", fmt.Errorf("reduce common ancestors: %w", err)
		}
		acc, err = db.Commit(ctx, merged, []Key{acc, next}, CommitInfo{
			Author:  "grove",
			Message: "synthetic merge ancestor",
		})
		if err != nil {
			return "", err
		}
	}
	return acc, nil
}

func (db *DB) commitTree(ctx context.Context, commit Key) (Tree, error) {
	if commit == "" {
		return db.EmptyTree(), nil
	}
	c, err := db.LoadCommit(ctx, commit)
	if err != nil {
		return Tree{}, err
	}
	return db.TreeAt(c.Tree), nil
}

func (db *DB) mergeCommitTrees(ctx context.Context, ancestor, ours, theirs Key, resolve Resolver) (Tree, error) {
	ancestorTree, err := db.commitTree(ctx, ancestor)
	if err != nil {
		return Tree{}, err
	}
	oursTree, err := db.commitTree(ctx, ours)
	if err != nil {
		return Tree{}, err
	}
	theirsTree, err := db.commitTree(ctx, theirs)
	if err != nil {
		return Tree{}, err
	}
	return db.MergeTrees(ctx, ancestorTree, oursTree, theirsTree, resolve)
}

// MergeTrees three-way-merges ours and theirs against their common
// ancestor. Paths changed on one side take that side's value; paths
// changed identically on both take it; paths changed differently are
// handed to the resolver. The merge is all-or-nothing: if any path
// stays unresolved, the result is a ConflictError naming every such
// path and no tree is produced.
func (db *DB) MergeTrees(ctx context.Context, ancestor, ours, theirs Tree, resolve Resolver) (Tree, error) {
	if resolve == nil {
		resolve = failResolver
	}
	mg := merger{db: db, resolve: resolve}
	root, err := mg.nodes(ctx, nil, ancestor.root, ours.root, theirs.root)
	if err != nil {
		return Tree{}, err
	}
	if len(mg.conflicts) > 0 {
		return Tree{}, ConflictError{mg.conflicts}
	}
	return Tree{db, root}, nil
}

type merger struct {
	db        *DB
	resolve   Resolver
	conflicts []Path
}

type mergeEntry struct {
	leaf    []byte
	link    string
	present bool
}

func (e mergeEntry) equal(other mergeEntry) bool {
	return e.present == other.present &&
		e.link == other.link &&
		bytes.Equal(e.leaf, other.leaf)
}

func entryAt(node *treeNode, name string) mergeEntry {
	i, ok := node.find(name)
	if !ok {
		return mergeEntry{}
	}
	return mergeEntry{node.Leaf[i], node.Link[i], true}
}

func (mg *merger) nodes(ctx context.Context, p Path, base, ours, theirs Key) (Key, error) {
	if ours == theirs || theirs == base {
		return ours, nil
	}
	if ours == base {
		return theirs, nil
	}
	baseNode, err := mg.db.loadTreeNode(ctx, base)
	if err != nil {
		return "", err
	}
	oursNode, err := mg.db.loadTreeNode(ctx, ours)
	if err != nil {
		return "", err
	}
	theirsNode, err := mg.db.loadTreeNode(ctx, theirs)
	if err != nil {
		return "", err
	}
	merged := treeNode{}
	for _, name := range unionNames(baseNode, oursNode, theirsNode) {
		b := entryAt(baseNode, name)
		o := entryAt(oursNode, name)
		t := entryAt(theirsNode, name)
		var take mergeEntry
		switch {
		case o.equal(t), t.equal(b):
			take = o
		case o.equal(b):
			take = t
		default:
			take, err = mg.entries(ctx, p.child(name), b, o, t)
			if err != nil {
				return "", err
			}
		}
		if take.present {
			merged.insert(len(merged.Name), name, take.leaf, take.link)
		}
	}
	return mg.db.storeTreeNode(ctx, &merged)
}

// entries reconciles one step that changed differently on both sides.
func (mg *merger) entries(ctx context.Context, p Path, b, o, t mergeEntry) (mergeEntry, error) {
	oursSubtree := o.present && o.leaf == nil
	theirsSubtree := t.present && t.leaf == nil
	if (oursSubtree || !o.present) && (theirsSubtree || !t.present) {
		// Subtrees (an absent side merges as an empty one). A base
		// leaf contributes nothing below this step.
		baseLink := ""
		if b.present && b.leaf == nil {
			baseLink = b.link
		}
		link, err := mg.nodes(ctx, p, Key(baseLink), Key(o.link), Key(t.link))
		if err != nil {
			return mergeEntry{}, err
		}
		if link == "" {
			return mergeEntry{}, nil
		}
		return mergeEntry{nil, string(link), true}, nil
	}
	if oursSubtree || theirsSubtree {
		// A value on one side and a subtree on the other can't be
		// reconciled by a value resolver.
		mg.conflicts = append(mg.conflicts, p)
		return mergeEntry{}, nil
	}
	var ancestor, oursValue, theirsValue interface{}
	var err error
	if b.present && b.leaf != nil {
		ancestor, err = mg.db.decodeValue(b.leaf)
		if err != nil {
			return mergeEntry{}, err
		}
	}
	if o.present {
		oursValue, err = mg.db.decodeValue(o.leaf)
		if err != nil {
			return mergeEntry{}, err
		}
	}
	if t.present {
		theirsValue, err = mg.db.decodeValue(t.leaf)
		if err != nil {
			return mergeEntry{}, err
		}
	}
	resolved, err := mg.resolve(p, ancestor, oursValue, theirsValue)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			mg.conflicts = append(mg.conflicts, p)
			return mergeEntry{}, nil
		}
		return mergeEntry{}, fmt.Errorf("resolve %s: %w", p, err)
	}
	if resolved == nil {
		return mergeEntry{}, nil
	}
	leaf, err := mg.db.encodeValue(resolved)
	if err != nil {
		return mergeEntry{}, err
	}
	return mergeEntry{leaf, "", true}, nil
}

func unionNames(nodes ...*treeNode) []string {
	seen := map[string]struct{}{}
	names := []string{}
	for _, node := range nodes {
		for _, name := range node.Name {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

const maxMergeRetries = 8

// Merge integrates the head of branch from into branch into,
// fast-forwarding when possible and otherwise committing a three-way
// merge with both heads as parents. Merging a branch into itself is a
// no-op. If into moves concurrently the merge is recomputed against
// the new head, a bounded number of times, before giving up with
// ErrAborted.
func (db *DB) Merge(ctx context.Context, from, into string, info CommitInfo, resolve Resolver) error {
	if from == into {
		return nil
	}
	head, ok := db.BranchHead(from)
	if !ok {
		return fmt.Errorf("merge: no branch %q", from)
	}
	return db.MergeCommit(ctx, head, into, info, resolve)
}

// MergeCommit integrates the given commit into branch into, as Merge
// does for a branch head.
func (db *DB) MergeCommit(ctx context.Context, from Key, into string, info CommitInfo, resolve Resolver) error {
	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		head, ok := db.BranchHead(into)
		if !ok {
			err := db.CompareAndSetBranch(ctx, into, "", from)
			if errors.Is(err, ErrDuplicated) {
				continue
			}
			return err
		}
		if head == from {
			return nil
		}
		reachable, err := db.IsAncestor(ctx, from, head)
		if err != nil {
			return fmt.Errorf("merge into %q: %w", into, err)
		}
		if reachable {
			// into already contains from.
			return nil
		}
		fastForward, err := db.IsAncestor(ctx, head, from)
		if err != nil {
			return fmt.Errorf("merge into %q: %w", into, err)
		}
		var newHead Key
		if fastForward {
			newHead = from
		} else {
			ancestor, err := db.mergeAncestor(ctx, head, from, resolve)
			if err != nil {
				return fmt.Errorf("merge into %q: %w", into, err)
			}
			merged, err := db.mergeCommitTrees(ctx, ancestor, head, from, resolve)
			if err != nil {
				return fmt.Errorf("merge into %q: %w", into, err)
			}
			newHead, err = db.Commit(ctx, merged, []Key{head, from}, info)
			if err != nil {
				return fmt.Errorf("merge into %q: %w", into, err)
			}
		}
		err = db.CompareAndSetBranch(ctx, into, head, newHead)
		if errors.Is(err, ErrAborted) {
			continue
		}
		return err
	}
	return fmt.Errorf("merge into %q: %w", into, ErrAborted)
}
