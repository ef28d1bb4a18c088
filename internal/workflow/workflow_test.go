package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

var allStatuses = []domain.TicketStatus{
	domain.TicketStatusPending,
	domain.TicketStatusApproved,
	domain.TicketStatusInProgress,
	domain.TicketStatusResolved,
	domain.TicketStatusRejected,
}

var allRoles = []domain.Role{domain.RoleReporter, domain.RoleManager, domain.RoleTechnician}

var allRelations = []Relationship{RelationNone, RelationReporter, RelationAssignee}

func TestCanTransition_Table(t *testing.T) {
	type key struct {
		role domain.Role
		rel  Relationship
		from domain.TicketStatus
		to   domain.TicketStatus
	}
	allowed := map[key]bool{}
	for _, rel := range allRelations {
		allowed[key{domain.RoleManager, rel, domain.TicketStatusPending, domain.TicketStatusApproved}] = true
		allowed[key{domain.RoleManager, rel, domain.TicketStatusPending, domain.TicketStatusRejected}] = true
		allowed[key{domain.RoleManager, rel, domain.TicketStatusApproved, domain.TicketStatusInProgress}] = true
		allowed[key{domain.RoleManager, rel, domain.TicketStatusApproved, domain.TicketStatusResolved}] = true
		allowed[key{domain.RoleManager, rel, domain.TicketStatusInProgress, domain.TicketStatusResolved}] = true
	}
	allowed[key{domain.RoleTechnician, RelationAssignee, domain.TicketStatusApproved, domain.TicketStatusInProgress}] = true
	allowed[key{domain.RoleTechnician, RelationAssignee, domain.TicketStatusApproved, domain.TicketStatusResolved}] = true
	allowed[key{domain.RoleTechnician, RelationAssignee, domain.TicketStatusInProgress, domain.TicketStatusResolved}] = true

	edges := map[[2]domain.TicketStatus]bool{}
	for k := range allowed {
		edges[[2]domain.TicketStatus{k.from, k.to}] = true
	}

	for _, role := range allRoles {
		for _, rel := range allRelations {
			for _, from := range allStatuses {
				for _, to := range allStatuses {
					err := CanTransition(role, rel, from, to)
					k := key{role, rel, from, to}
					switch {
					case allowed[k]:
						assert.NoError(t, err, "%v", k)
					case edges[[2]domain.TicketStatus{from, to}]:
						assert.ErrorIs(t, err, ErrUnauthorized, "%v", k)
					default:
						assert.ErrorIs(t, err, ErrInvalidTransition, "%v", k)
					}
				}
			}
		}
	}
}

func TestCanTransition_TerminalStatusesHaveNoEdges(t *testing.T) {
	for _, from := range []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusRejected} {
		for _, to := range allStatuses {
			err := CanTransition(domain.RoleManager, RelationNone, from, to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
		assert.Empty(t, AllowedTransitions(domain.RoleManager, RelationNone, from))
	}
}

func TestAllowedTransitions(t *testing.T) {
	assert.Equal(t,
		[]domain.TicketStatus{domain.TicketStatusApproved, domain.TicketStatusRejected},
		AllowedTransitions(domain.RoleManager, RelationNone, domain.TicketStatusPending))
	assert.Equal(t,
		[]domain.TicketStatus{domain.TicketStatusInProgress, domain.TicketStatusResolved},
		AllowedTransitions(domain.RoleTechnician, RelationAssignee, domain.TicketStatusApproved))
	assert.Empty(t, AllowedTransitions(domain.RoleTechnician, RelationNone, domain.TicketStatusApproved))
	assert.Empty(t, AllowedTransitions(domain.RoleReporter, RelationReporter, domain.TicketStatusPending))
}

func TestRelationshipOf(t *testing.T) {
	ticket := &domain.Ticket{
		Reporter:           domain.Reporter{ID: "rep"},
		AssignedTechnician: &domain.Assignee{ID: "tech"},
	}
	assert.Equal(t, RelationReporter, RelationshipOf("rep", ticket))
	assert.Equal(t, RelationAssignee, RelationshipOf("tech", ticket))
	assert.Equal(t, RelationNone, RelationshipOf("other", ticket))
	assert.Equal(t, RelationNone, RelationshipOf("", ticket))
	assert.Equal(t, RelationNone, RelationshipOf("rep", nil))
}

func TestCanAssign(t *testing.T) {
	assert.NoError(t, CanAssign(domain.RoleManager, domain.TicketStatusPending))
	assert.ErrorIs(t, CanAssign(domain.RoleManager, domain.TicketStatusApproved), ErrInvalidTransition)
	assert.ErrorIs(t, CanAssign(domain.RoleTechnician, domain.TicketStatusPending), ErrUnauthorized)
	assert.ErrorIs(t, CanAssign(domain.RoleReporter, domain.TicketStatusPending), ErrUnauthorized)
}

func TestDecide_StampsOnlyOnce(t *testing.T) {
	policy := Policy{RequireAssignment: true}
	manager := domain.Principal{ID: "m1", Role: domain.RoleManager}

	ticket := &domain.Ticket{Status: domain.TicketStatusPending}
	decision, err := policy.Decide(manager, ticket, domain.TicketStatusApproved)
	require.NoError(t, err)
	assert.True(t, decision.StampApproved)
	assert.False(t, decision.StampResolved)
	assert.Equal(t, "Status changed to Approved", decision.AutoMessage)

	approvedAt := time.Now()
	ticket = &domain.Ticket{
		Status:             domain.TicketStatusApproved,
		AssignedTechnician: &domain.Assignee{ID: "t1"},
		Timestamps:         domain.Timestamps{ApprovedAt: &approvedAt},
	}
	decision, err = policy.Decide(manager, ticket, domain.TicketStatusResolved)
	require.NoError(t, err)
	assert.False(t, decision.StampApproved)
	assert.True(t, decision.StampResolved)

	resolvedAt := time.Now()
	ticket.Status = domain.TicketStatusInProgress
	ticket.Timestamps.ResolvedAt = &resolvedAt
	decision, err = policy.Decide(manager, ticket, domain.TicketStatusResolved)
	require.NoError(t, err)
	assert.False(t, decision.StampResolved)
}

func TestDecide_RequireAssignment(t *testing.T) {
	manager := domain.Principal{ID: "m1", Role: domain.RoleManager}
	ticket := &domain.Ticket{Status: domain.TicketStatusApproved}

	_, err := Policy{RequireAssignment: true}.Decide(manager, ticket, domain.TicketStatusInProgress)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.ErrorIs(t, err, ErrAssignmentRequired)

	_, err = Policy{RequireAssignment: false}.Decide(manager, ticket, domain.TicketStatusInProgress)
	assert.NoError(t, err)
}

func TestDecide_TechnicianMustBeAssignee(t *testing.T) {
	policy := Policy{RequireAssignment: true}
	ticket := &domain.Ticket{
		Status:             domain.TicketStatusApproved,
		AssignedTechnician: &domain.Assignee{ID: "t1", Name: "Tess"},
	}

	_, err := policy.Decide(domain.Principal{ID: "t2", Role: domain.RoleTechnician}, ticket, domain.TicketStatusInProgress)
	assert.ErrorIs(t, err, ErrUnauthorized)

	decision, err := policy.Decide(domain.Principal{ID: "t1", Role: domain.RoleTechnician}, ticket, domain.TicketStatusInProgress)
	require.NoError(t, err)
	patch := decision.Patch(nil)
	require.NotNil(t, patch.ExpectStatus)
	assert.Equal(t, domain.TicketStatusApproved, *patch.ExpectStatus)
	assert.Equal(t, domain.TicketStatusInProgress, *patch.Status)
	assert.Nil(t, patch.FixDetails)
}
