package live

// State is the lifecycle state of a Collection.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateMutating
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateMutating:
		return "mutating"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of a collection's state.
type Snapshot[T Record] struct {
	SubjectID string
	State     State
	Records   []T

	// Err is the FetchError that put the collection in StateError.
	Err error

	// Version increases on every visible change.
	Version uint64
}

// Loading reports whether the initial fetch is in flight.
func (s Snapshot[T]) Loading() bool { return s.State == StateLoading }

// Ready reports whether the collection can be read and mutated.
func (s Snapshot[T]) Ready() bool {
	return s.State == StateReady || s.State == StateMutating
}

// Find returns the record with the given id.
func (s Snapshot[T]) Find(id string) (T, bool) {
	for _, r := range s.Records {
		if r.Key() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}
