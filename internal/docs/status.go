package docs

// Status is the closed set of lifecycle states a document may occupy. All
// transition decisions go through this file; nothing else in the codebase
// compares or assigns raw status strings.
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

var allStatuses = map[Status]struct{}{
	StatusActive:    {},
	StatusPending:   {},
	StatusExpired:   {},
	StatusCompleted: {},
	StatusDeleted:   {},
}

// ParseStatus validates a raw string against the closed set.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := allStatuses[s]
	return s, ok
}

// Valid reports whether the status belongs to the closed set.
func (s Status) Valid() bool {
	_, ok := allStatuses[s]
	return ok
}

// Absorbing reports whether automatic transitions may leave the status.
// Completed and deleted documents are never touched by the scheduler.
func (s Status) Absorbing() bool {
	return s == StatusCompleted || s == StatusDeleted
}

// CanUserSet reports whether an explicit user-driven transition is legal.
// Users may move a document to any valid status; this is a correction
// mechanism, so "from" does not restrict the move.
func CanUserSet(from, to Status) bool {
	return to.Valid()
}

// CanAutoExpire reports whether the scheduler may transition the status to
// expired. Only active and pending documents expire automatically.
func CanAutoExpire(from Status) bool {
	return from == StatusActive || from == StatusPending
}

// Importance is display-only metadata; it never affects scheduling.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

var allImportances = map[Importance]struct{}{
	ImportanceLow:      {},
	ImportanceMedium:   {},
	ImportanceHigh:     {},
	ImportanceCritical: {},
}

// ParseImportance validates a raw string, falling back to medium.
func ParseImportance(raw string) Importance {
	i := Importance(raw)
	if _, ok := allImportances[i]; ok {
		return i
	}
	return ImportanceMedium
}
