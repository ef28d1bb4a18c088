package domain

import "time"

// Author identifies who wrote an update entry.
type Author struct {
	ID   string
	Name string
}

// UpdateEntry is an immutable note in a ticket's activity log.
type UpdateEntry struct {
	ID       string
	TicketID string
	Author   Author
	Message  string
	// Status is set on entries generated by a status transition.
	Status    *TicketStatus
	CreatedAt time.Time
}
