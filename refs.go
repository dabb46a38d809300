package grove

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// BranchUpdate is delivered to watchers on every committed change to
// a branch. A zero Head means the branch was removed.
type BranchUpdate struct {
	Name string
	Head Key
}

// Watcher is a cancellable subscription to one branch's updates.
// Every update applied after the subscription is delivered on C, in
// the order the updates were applied; updates from before the
// subscription are not replayed. After Cancel, C is closed.
type Watcher struct {
	// C delivers the branch's updates.
	C <-chan BranchUpdate

	ch       chan BranchUpdate
	quit     chan struct{}
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []BranchUpdate
	canceled bool

	unsubscribe func()
}

func newWatcher(unsubscribe func()) *Watcher {
	w := Watcher{
		ch:          make(chan BranchUpdate),
		quit:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
	w.C = w.ch
	w.cond = sync.NewCond(&w.mu)
	go w.pump()
	return &w
}

// Updates are queued without bound so that a slow watcher never
// blocks branch writers; the pump goroutine drains the queue into C.
func (w *Watcher) pump() {
	defer close(w.ch)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.canceled {
			w.cond.Wait()
		}
		if w.canceled {
			w.mu.Unlock()
			return
		}
		update := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		select {
		case w.ch <- update:
		case <-w.quit:
			return
		}
	}
}

func (w *Watcher) deliver(update BranchUpdate) {
	w.mu.Lock()
	if !w.canceled {
		w.queue = append(w.queue, update)
	}
	w.cond.Signal()
	w.mu.Unlock()
}

// Cancel ends the subscription. Pending updates are discarded and C
// is closed.
func (w *Watcher) Cancel() {
	w.unsubscribe()
	w.mu.Lock()
	if !w.canceled {
		w.canceled = true
		close(w.quit)
	}
	w.queue = nil
	w.cond.Signal()
	w.mu.Unlock()
}

type branchStore struct {
	mu       sync.Mutex
	heads    map[string]Key
	watchers map[string][]*Watcher
}

func (bs *branchStore) init() {
	bs.heads = map[string]Key{}
	bs.watchers = map[string][]*Watcher{}
}

// notify runs with bs.mu held, so every watcher of a name observes
// that name's updates in apply order.
func (bs *branchStore) notify(name string, head Key) {
	for _, w := range bs.watchers[name] {
		w.deliver(BranchUpdate{name, head})
	}
}

// BranchHead returns the commit key the named branch points at, or
// ok==false if the branch doesn't exist.
func (db *DB) BranchHead(name string) (Key, bool) {
	bs := &db.branches
	bs.mu.Lock()
	head, ok := bs.heads[name]
	bs.mu.Unlock()
	return head, ok
}

// Branches returns the existing branch names in ascending order.
func (db *DB) Branches() []string {
	bs := &db.branches
	bs.mu.Lock()
	names := make([]string, 0, len(bs.heads))
	for name := range bs.heads {
		names = append(names, name)
	}
	bs.mu.Unlock()
	sort.Strings(names)
	return names
}

// SetBranch unconditionally points the named branch at the given
// commit, creating the branch if needed. The commit must be present
// in the store.
func (db *DB) SetBranch(ctx context.Context, name string, head Key) error {
	err := db.checkHead(ctx, head)
	if err != nil {
		return fmt.Errorf("set branch %q: %w", name, err)
	}
	bs := &db.branches
	bs.mu.Lock()
	bs.heads[name] = head
	bs.notify(name, head)
	bs.mu.Unlock()
	return nil
}

// CompareAndSetBranch points the named branch at head only if it
// still points at expected. A zero expected key means the branch must
// not exist yet; creating over an existing branch yields
// ErrDuplicated, and any other mismatch yields ErrAborted, in which
// case the caller may recompute against the new head and retry.
func (db *DB) CompareAndSetBranch(ctx context.Context, name string, expected, head Key) error {
	err := db.checkHead(ctx, head)
	if err != nil {
		return fmt.Errorf("compare-and-set branch %q: %w", name, err)
	}
	bs := &db.branches
	bs.mu.Lock()
	defer bs.mu.Unlock()
	current, ok := bs.heads[name]
	if expected == "" && ok {
		return fmt.Errorf("compare-and-set branch %q: %w", name, ErrDuplicated)
	}
	if expected != "" && (!ok || current != expected) {
		return fmt.Errorf("compare-and-set branch %q: %w", name, ErrAborted)
	}
	bs.heads[name] = head
	bs.notify(name, head)
	return nil
}

// RemoveBranch deletes the named branch; subsequent reads see it as
// absent. Removing an absent branch is a no-op.
func (db *DB) RemoveBranch(name string) {
	bs := &db.branches
	bs.mu.Lock()
	if _, ok := bs.heads[name]; ok {
		delete(bs.heads, name)
		bs.notify(name, "")
	}
	bs.mu.Unlock()
}

// WatchBranch subscribes to the named branch's updates, beginning
// with the next update applied. The branch need not exist yet.
func (db *DB) WatchBranch(name string) *Watcher {
	bs := &db.branches
	bs.mu.Lock()
	defer bs.mu.Unlock()
	var w *Watcher
	w = newWatcher(func() {
		bs.mu.Lock()
		watchers := bs.watchers[name]
		for i := range watchers {
			if watchers[i] == w {
				bs.watchers[name] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		bs.mu.Unlock()
	})
	bs.watchers[name] = append(bs.watchers[name], w)
	return w
}

func (db *DB) checkHead(ctx context.Context, head Key) error {
	if head == "" {
		return fmt.Errorf("zero head")
	}
	has, err := db.HasObject(ctx, head)
	if err != nil {
		return err
	}
	if !has {
		return DanglingError{head}
	}
	return nil
}
