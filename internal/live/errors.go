package live

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Mutate and Submit outside StateReady
	// and StateMutating.
	ErrNotReady = errors.New("collection not ready")

	// ErrRecordNotFound is returned by Mutate for an id the collection
	// does not hold.
	ErrRecordNotFound = errors.New("record not in collection")

	// ErrStale is returned by Initialize when Teardown or another
	// Initialize superseded it before the fetch completed.
	ErrStale = errors.New("collection was reinitialized or torn down")
)

// FetchError reports a failed bulk fetch. The collection is left empty
// in StateError.
type FetchError struct {
	Table     string
	SubjectID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s for %s: %v", e.Table, e.SubjectID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubscriptionError reports a change feed that could not be opened or
// was dropped. It is logged, never returned to consumers.
type SubscriptionError struct {
	Table     string
	SubjectID string
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribing to %s for %s: %v", e.Table, e.SubjectID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// RemoteUpdateError reports a failed remote insert or update. Local
// state is unchanged.
type RemoteUpdateError struct {
	// Op is "insert" or "update".
	Op  string
	ID  string
	Err error
}

func (e *RemoteUpdateError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *RemoteUpdateError) Unwrap() error { return e.Err }

// IsFetchError reports whether err (or any error in its chain) is a FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// IsRemoteUpdateError reports whether err (or any error in its chain)
// is a RemoteUpdateError.
func IsRemoteUpdateError(err error) bool {
	var updateErr *RemoteUpdateError
	return errors.As(err, &updateErr)
}
