package entity

import "fmt"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusTaken      Status = "TAKEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{
	StatusAvailable,
	StatusTaken,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

// ParseStatus converts user input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusTaken, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the order has its crew and can be completed.
func (s Status) Active() bool {
	return s == StatusTaken || s == StatusInProgress
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasWorker reports whether an order in this status must carry a worker id.
func (s Status) HasWorker() bool {
	return s == StatusTaken || s == StatusInProgress || s == StatusCompleted
}

func (s Status) String() string {
	return string(s)
}

// Role is the fixed role a user registers with.
type Role string

const (
	RoleDispatcher Role = "DISPATCHER"
	RoleLoader     Role = "LOADER"
)

// ParseRole converts user input into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDispatcher || r == RoleLoader
}

func (r Role) String() string {
	return string(r)
}
