package live

// Order is the direction of the createdAt ordering.
type Order int

const (
	// OldestFirst orders records chronologically (comment threads).
	OldestFirst Order = iota
	// NewestFirst puts the most recent record first (notification feeds).
	NewestFirst
)

// String returns the SQL direction keyword for the order.
func (o Order) String() string {
	if o == NewestFirst {
		return "desc"
	}
	return "asc"
}

// ParseOrder parses "asc" or "desc". Anything else is OldestFirst.
func ParseOrder(s string) Order {
	if s == "desc" {
		return NewestFirst
	}
	return OldestFirst
}

// ConfirmMode decides how a successful Submit becomes visible locally.
type ConfirmMode int

const (
	// ConfirmByPush leaves the collection untouched and waits for the
	// change feed to deliver the new record.
	ConfirmByPush ConfirmMode = iota

	// ConfirmByRefetch refetches the whole collection after the insert
	// is acknowledged, so the submitter sees its own record without a
	// change-feed round trip. If the refetch fails the acknowledged
	// record is inserted by id instead.
	ConfirmByRefetch

	// ConfirmByInsert inserts the acknowledged record immediately. A
	// later push for the same id is a no-op.
	ConfirmByInsert
)

// Policy configures a Collection for one kind of record.
type Policy struct {
	// Table names the remote collection and the change-feed table.
	Table string

	Order Order

	// Limit is passed to every fetch; zero fetches everything.
	Limit int

	// Capacity bounds the in-memory collection. When exceeded the
	// oldest records are evicted. Zero means unbounded.
	Capacity int

	Confirm ConfirmMode
}
