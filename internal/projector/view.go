package projector

import (
	"sort"
	"time"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

// Scope selects which tickets a view covers.
type Scope string

const (
	// ScopeOwn covers tickets filed by the viewer.
	ScopeOwn Scope = "own"
	// ScopeBoard covers every ticket, split into status bands.
	ScopeBoard Scope = "board"
	// ScopeAssigned covers tickets assigned to the viewing technician.
	ScopeAssigned Scope = "assigned"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOwn, ScopeBoard, ScopeAssigned:
		return true
	}
	return false
}

// DefaultScope is the scope a role gets when none is requested.
func DefaultScope(role domain.Role) Scope {
	if role == domain.RoleReporter {
		return ScopeOwn
	}
	return ScopeBoard
}

// Bands partitions tickets by lifecycle phase.
type Bands struct {
	Pending []domain.Ticket
	Active  []domain.Ticket
	Closed  []domain.Ticket
}

// Stats counts tickets per status.
type Stats struct {
	Total    int
	ByStatus map[domain.TicketStatus]int
}

// Technician is an entry in the manager's technician directory.
type Technician struct {
	ID    string
	Name  string
	Email string
}

// View is one complete snapshot. Consumers replace their state with it wholesale.
type View struct {
	Scope       Scope
	Sequence    uint64
	GeneratedAt time.Time
	Tickets     []domain.Ticket
	// Bands is set for ScopeBoard only.
	Bands *Bands
	Stats Stats
	// Technicians is set on manager board views.
	Technicians []Technician
}

// Derive builds a view from the matched tickets. The input slice is not modified.
func Derive(scope Scope, tickets []domain.Ticket) *View {
	sorted := make([]domain.Ticket, len(tickets))
	copy(sorted, tickets)
	sortNewestFirst(sorted)

	view := &View{
		Scope:   scope,
		Tickets: sorted,
		Stats:   countStats(sorted),
	}
	if scope == ScopeBoard {
		view.Bands = partition(sorted)
	}
	return view
}

func sortNewestFirst(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].Timestamps.CreatedAt, tickets[j].Timestamps.CreatedAt
		if a.Equal(b) {
			return tickets[i].ID > tickets[j].ID
		}
		return a.After(b)
	})
}

// partition keeps the input order inside each band.
func partition(sorted []domain.Ticket) *Bands {
	bands := &Bands{
		Pending: []domain.Ticket{},
		Active:  []domain.Ticket{},
		Closed:  []domain.Ticket{},
	}
	for _, t := range sorted {
		switch t.Status {
		case domain.TicketStatusPending:
			bands.Pending = append(bands.Pending, t)
		case domain.TicketStatusApproved, domain.TicketStatusInProgress:
			bands.Active = append(bands.Active, t)
		case domain.TicketStatusResolved, domain.TicketStatusRejected:
			bands.Closed = append(bands.Closed, t)
		}
	}
	return bands
}

func countStats(tickets []domain.Ticket) Stats {
	stats := Stats{
		Total: len(tickets),
		ByStatus: map[domain.TicketStatus]int{
			domain.TicketStatusPending:    0,
			domain.TicketStatusApproved:   0,
			domain.TicketStatusInProgress: 0,
			domain.TicketStatusResolved:   0,
			domain.TicketStatusRejected:   0,
		},
	}
	for _, t := range tickets {
		stats.ByStatus[t.Status]++
	}
	return stats
}
