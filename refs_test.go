package grove

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchLifecycle(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	_, ok := db.BranchHead("main")
	require.False(t, ok)

	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	require.NoError(t, db.SetBranch(ctx, "main", a))
	head, ok := db.BranchHead("main")
	require.True(t, ok)
	require.Equal(t, a, head)
	require.Equal(t, []string{"main"}, db.Branches())

	db.RemoveBranch("main")
	_, ok = db.BranchHead("main")
	require.False(t, ok)
	require.Empty(t, db.Branches())
}

func TestSetBranchRequiresExistingCommit(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	err := db.SetBranch(ctx, "main", "never-stored")
	var dangling DanglingError
	require.ErrorAs(t, err, &dangling)
	_, ok := db.BranchHead("main")
	require.False(t, ok)
}

func TestCompareAndSetBranch(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	b := mustCommit(t, db, []Key{a}, map[string]string{"p": "2"}, "b")

	// create
	require.NoError(t, db.CompareAndSetBranch(ctx, "main", "", a))
	// creating over an existing name
	err := db.CompareAndSetBranch(ctx, "main", "", b)
	require.ErrorIs(t, err, ErrDuplicated)
	// stale expected head
	err = db.CompareAndSetBranch(ctx, "main", b, a)
	require.ErrorIs(t, err, ErrAborted)
	// matching expected head
	require.NoError(t, db.CompareAndSetBranch(ctx, "main", a, b))
	head, _ := db.BranchHead("main")
	require.Equal(t, b, head)
}

func TestCompareAndSetBranchRace(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	b := mustCommit(t, db, []Key{a}, map[string]string{"p": "2"}, "b")
	c := mustCommit(t, db, []Key{a}, map[string]string{"p": "3"}, "c")
	require.NoError(t, db.SetBranch(ctx, "main", a))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = db.CompareAndSetBranch(ctx, "main", a, b)
	}()
	go func() {
		defer wg.Done()
		errs[1] = db.CompareAndSetBranch(ctx, "main", a, c)
	}()
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, ErrAborted)
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent compare-and-set should win")
	head, _ := db.BranchHead("main")
	require.Contains(t, []Key{b, c}, head)
}

func TestWatchDeliversUpdatesInOrder(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	b := mustCommit(t, db, []Key{a}, map[string]string{"p": "2"}, "b")
	c := mustCommit(t, db, []Key{b}, map[string]string{"p": "3"}, "c")

	w := db.WatchBranch("main")
	defer w.Cancel()
	require.NoError(t, db.SetBranch(ctx, "main", a))
	require.NoError(t, db.SetBranch(ctx, "main", b))
	require.NoError(t, db.SetBranch(ctx, "main", c))
	db.RemoveBranch("main")

	want := []Key{a, b, c, ""}
	for i, head := range want {
		select {
		case update := <-w.C:
			assert.Equal(t, "main", update.Name)
			assert.Equal(t, head, update.Head, "update %d", i)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
}

func TestWatchDoesNotReplayHistory(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	b := mustCommit(t, db, []Key{a}, map[string]string{"p": "2"}, "b")
	require.NoError(t, db.SetBranch(ctx, "main", a))

	w := db.WatchBranch("main")
	defer w.Cancel()
	require.NoError(t, db.SetBranch(ctx, "main", b))

	select {
	case update := <-w.C:
		require.Equal(t, b, update.Head, "first delivered update should be the first after subscription")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestWatchIsPerName(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	b := mustCommit(t, db, []Key{a}, map[string]string{"p": "2"}, "b")

	w := db.WatchBranch("watched")
	defer w.Cancel()
	require.NoError(t, db.SetBranch(ctx, "other", a))
	require.NoError(t, db.SetBranch(ctx, "watched", b))

	select {
	case update := <-w.C:
		require.Equal(t, "watched", update.Name)
		require.Equal(t, b, update.Head)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestWatchCancelClosesChannel(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	w := db.WatchBranch("main")
	w.Cancel()
	select {
	case _, ok := <-w.C:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close")
	}

	// updates after cancellation don't block the writer
	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	require.NoError(t, db.SetBranch(ctx, "main", a))
}

func TestWatchSlowConsumerDoesNotBlockWriters(t *testing.T) {
	t.Parallel()
	db := NewInMemoryDB()
	w := db.WatchBranch("main")
	defer w.Cancel()

	a := mustCommit(t, db, nil, map[string]string{"p": "1"}, "a")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			if err := db.SetBranch(ctx, "main", a); err != nil {
				t.Error(err)
				break
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("writer blocked behind a watcher that never reads")
	}
}
