package dto

import (
	"time"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/projector"
)

// CreateBreakdownRequest payload.
type CreateBreakdownRequest struct {
	Message  string `json:"message" validate:"required,max=4000"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Status     string  `json:"status" validate:"required,oneof=pending approved in_progress resolved rejected"`
	FixDetails *string `json:"fix_details" validate:"omitempty,max=4000"`
}

// AssignRequest payload.
type AssignRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
}

// FixDetailsRequest payload.
type FixDetailsRequest struct {
	FixDetails string `json:"fix_details" validate:"required,max=4000"`
}

// UpdateRequest payload.
type UpdateRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// PersonRef names a reporter or technician.
type PersonRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// UpdateResponse is one update log entry.
type UpdateResponse struct {
	ID        string               `json:"id"`
	Author    PersonRef            `json:"author"`
	Message   string               `json:"message"`
	Status    *domain.TicketStatus `json:"status,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// BreakdownResponse provides full ticket info.
type BreakdownResponse struct {
	ID                 string                `json:"id"`
	Reporter           PersonRef             `json:"reporter"`
	Message            string                `json:"message"`
	Priority           domain.TicketPriority `json:"priority"`
	Status             domain.TicketStatus   `json:"status"`
	StatusLabel        string                `json:"status_label"`
	AssignedTechnician *PersonRef            `json:"assigned_technician"`
	FixDetails         *string               `json:"fix_details"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	ApprovedAt         *time.Time            `json:"approved_at"`
	ResolvedAt         *time.Time            `json:"resolved_at"`
	Updates            []UpdateResponse      `json:"updates"`
}

// BandsResponse groups board tickets by phase.
type BandsResponse struct {
	Pending []BreakdownResponse `json:"pending"`
	Active  []BreakdownResponse `json:"active"`
	Closed  []BreakdownResponse `json:"closed"`
}

// StatsResponse counts tickets.
type StatsResponse struct {
	Total    int                         `json:"total"`
	ByStatus map[domain.TicketStatus]int `json:"by_status"`
}

// ViewResponse is the wire form of a projector snapshot.
type ViewResponse struct {
	Scope       projector.Scope      `json:"scope"`
	Sequence    uint64               `json:"sequence"`
	GeneratedAt time.Time            `json:"generated_at"`
	Tickets     []BreakdownResponse  `json:"tickets"`
	Bands       *BandsResponse       `json:"bands,omitempty"`
	Stats       StatsResponse        `json:"stats"`
	Technicians []TechnicianResponse `json:"technicians,omitempty"`
}

// NewBreakdownResponse maps a ticket.
func NewBreakdownResponse(t *domain.Ticket) BreakdownResponse {
	resp := BreakdownResponse{
		ID:          t.ID,
		Reporter:    PersonRef{ID: t.Reporter.ID, Name: t.Reporter.Name, Email: t.Reporter.Email},
		Message:     t.Message,
		Priority:    t.Priority,
		Status:      t.Status,
		StatusLabel: t.Status.Label(),
		FixDetails:  t.FixDetails,
		CreatedAt:   t.Timestamps.CreatedAt,
		UpdatedAt:   t.Timestamps.UpdatedAt,
		ApprovedAt:  t.Timestamps.ApprovedAt,
		ResolvedAt:  t.Timestamps.ResolvedAt,
		Updates:     make([]UpdateResponse, 0, len(t.Updates)),
	}
	if t.AssignedTechnician != nil {
		resp.AssignedTechnician = &PersonRef{ID: t.AssignedTechnician.ID, Name: t.AssignedTechnician.Name}
	}
	for i := range t.Updates {
		resp.Updates = append(resp.Updates, NewUpdateResponse(&t.Updates[i]))
	}
	return resp
}

// NewUpdateResponse maps an update entry.
func NewUpdateResponse(e *domain.UpdateEntry) UpdateResponse {
	return UpdateResponse{
		ID:        e.ID,
		Author:    PersonRef{ID: e.Author.ID, Name: e.Author.Name},
		Message:   e.Message,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
	}
}

// NewViewResponse maps a projector snapshot.
func NewViewResponse(v *projector.View) ViewResponse {
	resp := ViewResponse{
		Scope:       v.Scope,
		Sequence:    v.Sequence,
		GeneratedAt: v.GeneratedAt,
		Tickets:     breakdownList(v.Tickets),
		Stats:       StatsResponse{Total: v.Stats.Total, ByStatus: v.Stats.ByStatus},
	}
	if v.Bands != nil {
		resp.Bands = &BandsResponse{
			Pending: breakdownList(v.Bands.Pending),
			Active:  breakdownList(v.Bands.Active),
			Closed:  breakdownList(v.Bands.Closed),
		}
	}
	for _, t := range v.Technicians {
		resp.Technicians = append(resp.Technicians, TechnicianResponse{ID: t.ID, Name: t.Name, Email: t.Email})
	}
	return resp
}

func breakdownList(tickets []domain.Ticket) []BreakdownResponse {
	out := make([]BreakdownResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, NewBreakdownResponse(&tickets[i]))
	}
	return out
}
