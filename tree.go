package grove

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Path addresses a value in a Tree, one step per level.
type Path []string

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) child(step string) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = step
	return child
}

// treeNode is the serialized form of one tree level: entry names in
// ascending order, with a marshaled value and/or a link to a child
// node per entry. An entry holds exactly one of the two.
type treeNode struct {
	Name []string
	Leaf [][]byte
	Link []string `json:",omitempty"`
}

func (node *treeNode) find(step string) (int, bool) {
	i := sort.SearchStrings(node.Name, step)
	return i, i < len(node.Name) && node.Name[i] == step
}

func (node *treeNode) isEmpty() bool {
	return len(node.Name) == 0
}

func (node *treeNode) clone() *treeNode {
	newNode := treeNode{
		Name: append([]string{}, node.Name...),
		Leaf: append([][]byte{}, node.Leaf...),
		Link: append([]string{}, node.Link...),
	}
	return &newNode
}

func (node *treeNode) insert(i int, name string, leaf []byte, link string) {
	node.Name = append(node.Name[:i], append([]string{name}, node.Name[i:]...)...)
	node.Leaf = append(node.Leaf[:i], append([][]byte{leaf}, node.Leaf[i:]...)...)
	node.Link = append(node.Link[:i], append([]string{link}, node.Link[i:]...)...)
}

func (node *treeNode) removeAt(i int) {
	node.Name = append(node.Name[:i], node.Name[i+1:]...)
	node.Leaf = append(node.Leaf[:i], node.Leaf[i+1:]...)
	node.Link = append(node.Link[:i], node.Link[i+1:]...)
}

var emptyTreeNode = treeNode{}

func (db *DB) loadTreeNode(ctx context.Context, link Key) (*treeNode, error) {
	if link == "" {
		return &emptyTreeNode, nil
	}
	if db.nodeCache != nil {
		if cached, ok := db.nodeCache.Get(link); ok {
			if node, ok := cached.(*treeNode); ok {
				return node, nil
			}
		}
	}
	b, err := db.GetObject(ctx, link)
	if err != nil {
		return nil, err
	}
	var node treeNode
	err = json.Unmarshal(b, &node)
	if err != nil {
		return nil, fmt.Errorf("unmarshal node %s: %w", link, err)
	}
	if len(node.Leaf) != len(node.Name) {
		return nil, fmt.Errorf("node %s: mismatched names and leaves", link)
	}
	if node.Link == nil {
		node.Link = make([]string, len(node.Name))
	} else if len(node.Link) != len(node.Name) {
		return nil, fmt.Errorf("node %s: mismatched names and links", link)
	}
	if db.nodeCache != nil {
		db.nodeCache.Add(link, &node)
	}
	return &node, nil
}

func (db *DB) storeTreeNode(ctx context.Context, node *treeNode) (Key, error) {
	if node.isEmpty() {
		return "", nil
	}
	trimmed := *node
	linkCount := 0
	for _, l := range node.Link {
		if l != "" {
			linkCount++
		}
	}
	if linkCount == 0 {
		trimmed.Link = nil
	}
	encoded, err := json.Marshal(&trimmed)
	if err != nil {
		return "", fmt.Errorf("marshal node: %w", err)
	}
	key := db.digest(encoded)
	if db.nodeCache != nil && db.nodeCache.Contains(key) {
		return key, nil
	}
	err = db.persist.Store(ctx, string(key), encoded)
	if err != nil {
		return "", fmt.Errorf("persist store: %w", err)
	}
	if db.nodeCache != nil {
		db.nodeCache.Add(key, node)
	}
	return key, nil
}

// Tree is an immutable mapping of paths to values. The zero-keyed
// tree is empty. Updates return new Trees sharing every unaffected
// subtree with the original; no operation mutates a previously
// returned Tree.
type Tree struct {
	db   *DB
	root Key
}

// EmptyTree returns a tree with no bindings.
func (db *DB) EmptyTree() Tree {
	return Tree{db, ""}
}

// TreeAt returns the tree rooted at the given key, e.g. a Commit's
// Tree field. Nodes are loaded on demand.
func (db *DB) TreeAt(key Key) Tree {
	return Tree{db, key}
}

// Key returns the content-derived name of the tree's root, or the
// zero Key for an empty tree. Two trees with equal keys hold equal
// bindings.
func (t Tree) Key() Key {
	return t.root
}

// IsEmpty indicates whether the tree has no bindings.
func (t Tree) IsEmpty() bool {
	return t.root == ""
}

// Find returns the value bound at the given path, or ok==false if any
// step of the path is absent. Absence is not an error.
func (t Tree) Find(ctx context.Context, p Path) (interface{}, bool, error) {
	if len(p) == 0 {
		return nil, false, nil
	}
	link := t.root
	for len(p) > 1 {
		node, err := t.db.loadTreeNode(ctx, link)
		if err != nil {
			return nil, false, err
		}
		i, ok := node.find(p[0])
		if !ok || node.Link[i] == "" {
			return nil, false, nil
		}
		link = Key(node.Link[i])
		p = p[1:]
	}
	node, err := t.db.loadTreeNode(ctx, link)
	if err != nil {
		return nil, false, err
	}
	i, ok := node.find(p[0])
	if !ok || node.Leaf[i] == nil {
		return nil, false, nil
	}
	value, err := t.db.decodeValue(node.Leaf[i])
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Add returns a new tree with the given value bound at the given
// path, replacing anything previously bound at or below it.
func (t Tree) Add(ctx context.Context, p Path, value interface{}) (Tree, error) {
	if len(p) == 0 {
		return Tree{}, fmt.Errorf("add: empty path")
	}
	leaf, err := t.db.encodeValue(value)
	if err != nil {
		return Tree{}, err
	}
	newRoot, err := t.db.treeAdd(ctx, t.root, p, leaf)
	if err != nil {
		return Tree{}, fmt.Errorf("add %s: %w", p, err)
	}
	return Tree{t.db, newRoot}, nil
}

func (db *DB) treeAdd(ctx context.Context, link Key, p Path, leaf []byte) (Key, error) {
	node, err := db.loadTreeNode(ctx, link)
	if err != nil {
		return "", err
	}
	i, ok := node.find(p[0])
	newNode := node.clone()
	if len(p) == 1 {
		if ok {
			newNode.Leaf[i] = leaf
			newNode.Link[i] = ""
		} else {
			newNode.insert(i, p[0], leaf, "")
		}
		return db.storeTreeNode(ctx, newNode)
	}
	var childLink Key
	if ok {
		childLink = Key(node.Link[i])
	}
	newChild, err := db.treeAdd(ctx, childLink, p[1:], leaf)
	if err != nil {
		return "", err
	}
	if ok {
		newNode.Leaf[i] = nil
		newNode.Link[i] = string(newChild)
	} else {
		newNode.insert(i, p[0], nil, string(newChild))
	}
	return db.storeTreeNode(ctx, newNode)
}

// Remove returns a new tree without the binding (or subtree) at the
// given path. Removing an absent path yields the same tree.
func (t Tree) Remove(ctx context.Context, p Path) (Tree, error) {
	if len(p) == 0 {
		return Tree{}, fmt.Errorf("remove: empty path")
	}
	newRoot, changed, err := t.db.treeRemove(ctx, t.root, p)
	if err != nil {
		return Tree{}, fmt.Errorf("remove %s: %w", p, err)
	}
	if !changed {
		return t, nil
	}
	return Tree{t.db, newRoot}, nil
}

func (db *DB) treeRemove(ctx context.Context, link Key, p Path) (Key, bool, error) {
	if link == "" {
		return "", false, nil
	}
	node, err := db.loadTreeNode(ctx, link)
	if err != nil {
		return "", false, err
	}
	i, ok := node.find(p[0])
	if !ok {
		return link, false, nil
	}
	newNode := node.clone()
	if len(p) == 1 {
		newNode.removeAt(i)
	} else {
		if node.Link[i] == "" {
			return link, false, nil
		}
		newChild, changed, err := db.treeRemove(ctx, Key(node.Link[i]), p[1:])
		if err != nil {
			return "", false, err
		}
		if !changed {
			return link, false, nil
		}
		if newChild == "" {
			newNode.removeAt(i)
		} else {
			newNode.Link[i] = string(newChild)
		}
	}
	newLink, err := db.storeTreeNode(ctx, newNode)
	if err != nil {
		return "", false, err
	}
	return newLink, true, nil
}

// List returns the steps immediately below the given path, in
// ascending order. The root's steps are listed for an empty path; an
// absent path lists nothing.
func (t Tree) List(ctx context.Context, p Path) ([]string, error) {
	link := t.root
	for len(p) > 0 {
		node, err := t.db.loadTreeNode(ctx, link)
		if err != nil {
			return nil, err
		}
		i, ok := node.find(p[0])
		if !ok || node.Link[i] == "" {
			return nil, nil
		}
		link = Key(node.Link[i])
		p = p[1:]
	}
	node, err := t.db.loadTreeNode(ctx, link)
	if err != nil {
		return nil, err
	}
	return append([]string{}, node.Name...), nil
}

// Iter invokes the given callback for every path bound in the tree,
// in path order.
func (t Tree) Iter(ctx context.Context, f func(Path, interface{}) error) error {
	return t.db.treeIter(ctx, t.root, nil, f)
}

func (db *DB) treeIter(ctx context.Context, link Key, prefix Path, f func(Path, interface{}) error) error {
	if link == "" {
		return nil
	}
	node, err := db.loadTreeNode(ctx, link)
	if err != nil {
		return err
	}
	for i, name := range node.Name {
		if node.Leaf[i] != nil {
			value, err := db.decodeValue(node.Leaf[i])
			if err != nil {
				return err
			}
			err = f(prefix.child(name), value)
			if err != nil {
				return err
			}
			continue
		}
		err = db.treeIter(ctx, Key(node.Link[i]), prefix.child(name), f)
		if err != nil {
			return err
		}
	}
	return nil
}
