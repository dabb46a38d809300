package grove

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAborted signals that a branch update lost a race with a
	// concurrent writer: the branch no longer pointed at the head the
	// caller observed. The caller may recompute against the new head
	// and retry.
	ErrAborted = errors.New("branch moved concurrently")

	// ErrDuplicated signals that an operation creating a new branch
	// name found the name already taken.
	ErrDuplicated = errors.New("branch already exists")

	// ErrConflict is the base error for merge conflicts. Resolvers
	// return it (or an error wrapping it) to mark a path as
	// unresolvable; ConflictError matches it with errors.Is.
	ErrConflict = errors.New("merge conflict")
)

// DanglingError reports a key that was expected to resolve to an
// object but doesn't, e.g. a commit naming a parent that was never
// stored. Graph traversals never treat a dangling reference as mere
// absence; they fail with this error.
type DanglingError struct {
	Key Key
}

func (e DanglingError) Error() string {
	return fmt.Sprintf("dangling reference %s", e.Key)
}

// ConflictError reports the paths a three-way merge could not
// reconcile. The merge that produced it had no other effect.
type ConflictError struct {
	Paths []Path
}

func (e ConflictError) Error() string {
	strs := make([]string, len(e.Paths))
	for i, p := range e.Paths {
		strs[i] = p.String()
	}
	return fmt.Sprintf("merge conflict at %s", strings.Join(strs, ", "))
}

func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransferError reports a failed fetch or push. The transfer had no
// effect on any branch of the destination store.
type TransferError struct {
	Op  string
	Err error
}

func (e TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e TransferError) Unwrap() error {
	return e.Err
}
