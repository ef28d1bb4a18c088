package domain

import "time"

// TicketStatus enumerates lifecycle states for breakdown tickets.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusApproved   TicketStatus = "approved"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusRejected   TicketStatus = "rejected"
)

var statusLabels = map[TicketStatus]string{
	TicketStatusPending:    "Pending",
	TicketStatusApproved:   "Approved",
	TicketStatusInProgress: "In Progress",
	TicketStatusResolved:   "Resolved",
	TicketStatusRejected:   "Rejected",
}

// Valid reports whether s is part of the status vocabulary.
func (s TicketStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the human readable status name.
func (s TicketStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Terminal reports whether the status has no outgoing transitions.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusRejected
}

// TicketPriority enumerates breakdown urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Reporter identifies the principal who filed a ticket.
type Reporter struct {
	ID    string
	Name  string
	Email string
}

// Assignee references the technician responsible for a ticket.
type Assignee struct {
	ID   string
	Name string
}

// Timestamps groups the store-assigned times of a ticket.
type Timestamps struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ApprovedAt *time.Time
	ResolvedAt *time.Time
}

// Ticket is the aggregate for a reported breakdown.
type Ticket struct {
	ID                 string
	Reporter           Reporter
	Message            string
	Priority           TicketPriority
	Status             TicketStatus
	AssignedTechnician *Assignee
	FixDetails         *string
	Timestamps         Timestamps
	Updates            []UpdateEntry
}

// AssignedTo reports whether the ticket is assigned to the given principal.
func (t *Ticket) AssignedTo(principalID string) bool {
	return t.AssignedTechnician != nil && principalID != "" && t.AssignedTechnician.ID == principalID
}

// TicketPatch is the field group written atomically by one mutation.
// Nil fields are left untouched.
type TicketPatch struct {
	// ExpectStatus guards the write; the patch fails when the stored status differs.
	ExpectStatus       *TicketStatus
	Status             *TicketStatus
	AssignedTechnician *Assignee
	FixDetails         *string
	StampApproved      bool
	StampResolved      bool
}
