package service

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/events"
	"github.com/spec-kit/breakdown-service/internal/observability"
	"github.com/spec-kit/breakdown-service/internal/repository"
	"github.com/spec-kit/breakdown-service/internal/workflow"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

// Gateway is the only writer of ticket status, assignment and fix details.
// Each mutation reads the ticket, asks the workflow, then issues a single atomic patch.
type Gateway struct {
	tickets    repository.TicketRepository
	log        *UpdateLog
	dispatcher events.Dispatcher
	policy     workflow.Policy
	hooks      *hookRunner
	logger     *zap.Logger
	metrics    *observability.Metrics
	sanitizer  *bluemonday.Policy
}

// GatewayDependencies bundles collaborators for the gateway.
type GatewayDependencies struct {
	TicketRepo repository.TicketRepository
	UpdateLog  *UpdateLog
	Dispatcher events.Dispatcher
	Policy     workflow.Policy
	Hooks      []PostCommitHook
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// CreateTicketInput describes a new breakdown report.
type CreateTicketInput struct {
	Message  string
	Priority domain.TicketPriority
}

// TransitionInput requests a status change, optionally writing fix details in the same patch.
type TransitionInput struct {
	Status     domain.TicketStatus
	FixDetails *string
}

// Actions lists what a principal may do to a ticket right now.
type Actions struct {
	Transitions       []domain.TicketStatus `json:"transitions"`
	CanAssign         bool                  `json:"can_assign"`
	CanEditFixDetails bool                  `json:"can_edit_fix_details"`
	CanPostUpdate     bool                  `json:"can_post_update"`
}

// NewGateway constructs the gateway.
func NewGateway(deps GatewayDependencies) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		tickets:    deps.TicketRepo,
		log:        deps.UpdateLog,
		dispatcher: deps.Dispatcher,
		policy:     deps.Policy,
		hooks:      &hookRunner{hooks: deps.Hooks, logger: logger},
		logger:     logger,
		metrics:    deps.Metrics,
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// CreateTicket files a pending breakdown for the reporter.
func (g *Gateway) CreateTicket(ctx context.Context, principal domain.Principal, input CreateTicketInput) (*domain.Ticket, error) {
	if principal.Role != domain.RoleReporter {
		return nil, apperrors.NewForbidden("only reporters can file breakdowns")
	}
	message, err := sanitizeText(g.sanitizer, input.Message, "message")
	if err != nil {
		return nil, err
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}

	ticket := &domain.Ticket{
		Reporter: domain.Reporter{
			ID:    principal.ID,
			Name:  principal.DisplayName,
			Email: principal.Email,
		},
		Message:  message,
		Priority: priority,
		Status:   domain.TicketStatusPending,
	}
	if err := g.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewStoreError(err)
	}

	g.publish(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(principal),
		Payload: events.TicketCreatedPayload{
			ReporterID: principal.ID,
			Priority:   priority,
		},
	})
	g.hooks.run(ctx, Commit{Kind: CommitTicketCreated, Principal: principal, Ticket: *ticket})
	return ticket, nil
}

// GetTicket returns the ticket with its update log. Reporters only see their own tickets.
func (g *Gateway) GetTicket(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	ticket, err := g.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if principal.Role == domain.RoleReporter && ticket.Reporter.ID != principal.ID {
		return nil, apperrors.NewForbidden("ticket belongs to another reporter")
	}
	updates, err := g.log.List(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	ticket.Updates = updates
	return ticket, nil
}

// Transition moves the ticket to input.Status when the workflow allows it.
func (g *Gateway) Transition(ctx context.Context, principal domain.Principal, ticketID string, input TransitionInput) (*domain.Ticket, error) {
	if !input.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": input.Status})
	}
	fixDetails, err := g.optionalText(input.FixDetails, "fix_details")
	if err != nil {
		return nil, err
	}

	ticket, err := g.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	decision, err := g.policy.Decide(principal, ticket, input.Status)
	if err != nil {
		return nil, workflowError(err, map[string]any{
			"id":   ticketID,
			"from": ticket.Status,
			"to":   input.Status,
		})
	}

	updated, err := g.tickets.Patch(ctx, ticketID, decision.Patch(fixDetails))
	if err != nil {
		return nil, storeError("ticket", ticketID, err)
	}
	g.metrics.RecordTransition(string(decision.From), string(decision.To))
	g.logger.Info("ticket status changed",
		zap.String("ticket_id", ticketID),
		zap.String("principal_id", principal.ID),
		zap.String("from", string(decision.From)),
		zap.String("to", string(decision.To)))

	to := decision.To
	if _, err := g.log.Append(ctx, ticketID, principal.Author(), decision.AutoMessage, &to); err != nil {
		g.logger.Warn("status update entry not recorded",
			zap.String("ticket_id", ticketID),
			zap.Error(err))
	}

	g.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticketID,
		Actor:    events.ActorFrom(principal),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: decision.From,
			NewStatus: decision.To,
		},
	})
	g.hooks.run(ctx, Commit{Kind: CommitStatusChanged, Principal: principal, Ticket: *updated, Previous: decision.From})
	return g.withUpdates(ctx, updated), nil
}

// Assign records the technician responsible for a pending ticket and notifies them.
func (g *Gateway) Assign(ctx context.Context, principal domain.Principal, ticketID string, assignee domain.Assignee, contactEmail string) (*domain.Ticket, error) {
	assignee.ID = strings.TrimSpace(assignee.ID)
	assignee.Name = strings.TrimSpace(assignee.Name)
	if assignee.ID == "" || assignee.Name == "" {
		return nil, apperrors.NewValidationError("technician id and name are required", nil)
	}

	ticket, err := g.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanAssign(principal.Role, ticket.Status); err != nil {
		return nil, workflowError(err, map[string]any{"id": ticketID, "status": ticket.Status})
	}

	current := ticket.Status
	updated, err := g.tickets.Patch(ctx, ticketID, domain.TicketPatch{
		ExpectStatus:       &current,
		AssignedTechnician: &assignee,
	})
	if err != nil {
		return nil, storeError("ticket", ticketID, err)
	}
	g.logger.Info("technician assigned",
		zap.String("ticket_id", ticketID),
		zap.String("principal_id", principal.ID),
		zap.String("technician_id", assignee.ID))

	g.publish(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticketID,
		Actor:    events.ActorFrom(principal),
		Payload: events.TicketAssignedPayload{
			TechnicianID:   assignee.ID,
			TechnicianName: assignee.Name,
		},
	})
	g.hooks.run(ctx, Commit{Kind: CommitAssigned, Principal: principal, Ticket: *updated, Contact: contactEmail})
	return g.withUpdates(ctx, updated), nil
}

// SetFixDetails writes the repair notes. It does not depend on the current status.
func (g *Gateway) SetFixDetails(ctx context.Context, principal domain.Principal, ticketID, details string) (*domain.Ticket, error) {
	clean, err := sanitizeText(g.sanitizer, details, "fix_details")
	if err != nil {
		return nil, err
	}

	ticket, err := g.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	rel := workflow.RelationshipOf(principal.ID, ticket)
	if err := workflow.CanEditFixDetails(principal.Role, rel); err != nil {
		return nil, workflowError(err, map[string]any{"id": ticketID})
	}

	updated, err := g.tickets.Patch(ctx, ticketID, domain.TicketPatch{FixDetails: &clean})
	if err != nil {
		return nil, storeError("ticket", ticketID, err)
	}

	g.publish(ctx, events.Event{
		Type:     events.EventTicketFixDetailsChanged,
		TicketID: ticketID,
		Actor:    events.ActorFrom(principal),
	})
	g.hooks.run(ctx, Commit{Kind: CommitFixDetails, Principal: principal, Ticket: *updated})
	return g.withUpdates(ctx, updated), nil
}

// PostUpdate appends a human note to the ticket's update log.
func (g *Gateway) PostUpdate(ctx context.Context, principal domain.Principal, ticketID, message string) (*domain.UpdateEntry, error) {
	ticket, err := g.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canPostUpdate(principal, ticket) {
		return nil, apperrors.NewForbidden("reporters can only post on their own tickets")
	}

	entry, err := g.log.Append(ctx, ticketID, principal.Author(), message, nil)
	if err != nil {
		return nil, err
	}

	g.publish(ctx, events.Event{
		Type:     events.EventUpdateAppended,
		TicketID: ticketID,
		Actor:    events.ActorFrom(principal),
		Payload: events.UpdateAppendedPayload{
			EntryID:  entry.ID,
			AuthorID: principal.ID,
		},
	})
	g.hooks.run(ctx, Commit{Kind: CommitUpdatePosted, Principal: principal, Ticket: *ticket})
	return entry, nil
}

// AllowedActions reports the operations the gateway would accept from principal.
func (g *Gateway) AllowedActions(ctx context.Context, principal domain.Principal, ticketID string) (*Actions, error) {
	ticket, err := g.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if principal.Role == domain.RoleReporter && ticket.Reporter.ID != principal.ID {
		return nil, apperrors.NewForbidden("ticket belongs to another reporter")
	}

	rel := workflow.RelationshipOf(principal.ID, ticket)
	actions := &Actions{Transitions: []domain.TicketStatus{}}
	for _, to := range workflow.AllowedTransitions(principal.Role, rel, ticket.Status) {
		if _, err := g.policy.Decide(principal, ticket, to); err == nil {
			actions.Transitions = append(actions.Transitions, to)
		}
	}
	actions.CanAssign = workflow.CanAssign(principal.Role, ticket.Status) == nil
	actions.CanEditFixDetails = workflow.CanEditFixDetails(principal.Role, rel) == nil
	actions.CanPostUpdate = canPostUpdate(principal, ticket)
	return actions, nil
}

// Wait blocks until every running post-commit hook has returned.
func (g *Gateway) Wait() {
	g.hooks.wait()
}

func (g *Gateway) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, apperrors.NewValidationError("ticket id is required", nil)
	}
	ticket, err := g.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError("ticket", ticketID, err)
	}
	return ticket, nil
}

// withUpdates attaches the update log; a failed read leaves Updates empty.
func (g *Gateway) withUpdates(ctx context.Context, ticket *domain.Ticket) *domain.Ticket {
	updates, err := g.log.List(ctx, ticket.ID)
	if err != nil {
		g.logger.Warn("update log read failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return ticket
	}
	ticket.Updates = updates
	return ticket
}

func (g *Gateway) optionalText(value *string, field string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	if strings.TrimSpace(html.UnescapeString(g.sanitizer.Sanitize(*value))) == "" {
		return nil, nil
	}
	clean, err := sanitizeText(g.sanitizer, *value, field)
	if err != nil {
		return nil, err
	}
	return &clean, nil
}

func (g *Gateway) publish(ctx context.Context, event events.Event) {
	if g.dispatcher == nil {
		return
	}
	if err := g.dispatcher.Publish(ctx, event); err != nil {
		g.logger.Warn("change event not published",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func canPostUpdate(principal domain.Principal, ticket *domain.Ticket) bool {
	switch principal.Role {
	case domain.RoleManager, domain.RoleTechnician:
		return true
	case domain.RoleReporter:
		return ticket.Reporter.ID == principal.ID
	default:
		return false
	}
}
