// Package workflow holds the breakdown lifecycle rules: which status changes exist,
// who may request them and which timestamps they stamp. It performs no I/O.
package workflow

import (
	"errors"
	"fmt"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

var (
	// ErrInvalidTransition is returned for status changes absent from the table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnauthorized is returned when the requester's role or relationship is not allowed.
	ErrUnauthorized = errors.New("requester not allowed to perform transition")
	// ErrAssignmentRequired is returned when work starts on an unassigned ticket.
	ErrAssignmentRequired = fmt.Errorf("%w: technician must be assigned first", ErrInvalidTransition)
)

// Relationship describes how a principal relates to a ticket.
type Relationship int

const (
	RelationNone Relationship = iota
	RelationReporter
	RelationAssignee
)

func (r Relationship) String() string {
	switch r {
	case RelationReporter:
		return "reporter"
	case RelationAssignee:
		return "assignee"
	default:
		return "none"
	}
}

// RelationshipOf derives the principal's relationship to the ticket.
func RelationshipOf(principalID string, ticket *domain.Ticket) Relationship {
	if ticket == nil || principalID == "" {
		return RelationNone
	}
	if ticket.AssignedTo(principalID) {
		return RelationAssignee
	}
	if ticket.Reporter.ID == principalID {
		return RelationReporter
	}
	return RelationNone
}

type edge struct {
	from domain.TicketStatus
	to   domain.TicketStatus
}

// requester reports whether a role/relationship pair may take an edge.
type requester func(role domain.Role, rel Relationship) bool

func managerOnly(role domain.Role, _ Relationship) bool {
	return role == domain.RoleManager
}

func managerOrAssignee(role domain.Role, rel Relationship) bool {
	return role == domain.RoleManager || (role == domain.RoleTechnician && rel == RelationAssignee)
}

var transitions = map[edge]requester{
	{domain.TicketStatusPending, domain.TicketStatusApproved}:    managerOnly,
	{domain.TicketStatusPending, domain.TicketStatusRejected}:    managerOnly,
	{domain.TicketStatusApproved, domain.TicketStatusInProgress}: managerOrAssignee,
	{domain.TicketStatusApproved, domain.TicketStatusResolved}:   managerOrAssignee,
	{domain.TicketStatusInProgress, domain.TicketStatusResolved}: managerOrAssignee,
}

// orderedTargets keeps AllowedTransitions deterministic.
var orderedTargets = []domain.TicketStatus{
	domain.TicketStatusApproved,
	domain.TicketStatusRejected,
	domain.TicketStatusInProgress,
	domain.TicketStatusResolved,
}

// CanTransition is the single authorization predicate for status changes.
// It returns nil, ErrInvalidTransition or ErrUnauthorized.
func CanTransition(role domain.Role, rel Relationship, from, to domain.TicketStatus) error {
	allowed, ok := transitions[edge{from: from, to: to}]
	if !ok {
		return ErrInvalidTransition
	}
	if !allowed(role, rel) {
		return ErrUnauthorized
	}
	return nil
}

// AllowedTransitions lists the targets the requester may move the ticket to.
func AllowedTransitions(role domain.Role, rel Relationship, from domain.TicketStatus) []domain.TicketStatus {
	var out []domain.TicketStatus
	for _, to := range orderedTargets {
		if CanTransition(role, rel, from, to) == nil {
			out = append(out, to)
		}
	}
	return out
}

// CanAssign reports whether a technician may be assigned in the current status.
func CanAssign(role domain.Role, status domain.TicketStatus) error {
	if role != domain.RoleManager {
		return ErrUnauthorized
	}
	if status != domain.TicketStatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// CanEditFixDetails reports whether the requester may write fix details.
func CanEditFixDetails(role domain.Role, rel Relationship) error {
	if managerOrAssignee(role, rel) {
		return nil
	}
	return ErrUnauthorized
}

// Policy tunes the checks that go beyond the transition table.
type Policy struct {
	// RequireAssignment denies leaving approved while no technician is assigned.
	RequireAssignment bool
}

// Decision is the outcome of an allowed transition.
type Decision struct {
	From          domain.TicketStatus
	To            domain.TicketStatus
	StampApproved bool
	StampResolved bool
	AutoMessage   string
}

// Decide validates a transition request against the ticket and returns the writes it implies.
func (p Policy) Decide(principal domain.Principal, ticket *domain.Ticket, to domain.TicketStatus) (Decision, error) {
	if ticket == nil {
		return Decision{}, ErrInvalidTransition
	}
	from := ticket.Status
	rel := RelationshipOf(principal.ID, ticket)
	if err := CanTransition(principal.Role, rel, from, to); err != nil {
		return Decision{}, err
	}
	if p.RequireAssignment && from == domain.TicketStatusApproved && ticket.AssignedTechnician == nil {
		return Decision{}, ErrAssignmentRequired
	}
	return Decision{
		From:          from,
		To:            to,
		StampApproved: to == domain.TicketStatusApproved && ticket.Timestamps.ApprovedAt == nil,
		StampResolved: to == domain.TicketStatusResolved && ticket.Timestamps.ResolvedAt == nil,
		AutoMessage:   StatusMessage(to),
	}, nil
}

// Patch converts the decision into the atomic field group for the store.
func (d Decision) Patch(fixDetails *string) domain.TicketPatch {
	from, to := d.From, d.To
	return domain.TicketPatch{
		ExpectStatus:  &from,
		Status:        &to,
		FixDetails:    fixDetails,
		StampApproved: d.StampApproved,
		StampResolved: d.StampResolved,
	}
}

// StatusMessage is the automatic update log text for entering a status.
func StatusMessage(to domain.TicketStatus) string {
	return "Status changed to " + to.Label()
}
