package domain

import "time"

// AssignmentSummary is what a technician is told about a newly assigned ticket.
type AssignmentSummary struct {
	TicketID        string
	TechnicianName  string
	TaskDescription string
	ReporterName    string
	ReporterEmail   string
	Priority        TicketPriority
	CreatedAt       time.Time
}

// SummarizeAssignment builds the summary from the assigned ticket.
func SummarizeAssignment(ticket *Ticket) AssignmentSummary {
	summary := AssignmentSummary{
		TicketID:        ticket.ID,
		TaskDescription: ticket.Message,
		ReporterName:    ticket.Reporter.Name,
		ReporterEmail:   ticket.Reporter.Email,
		Priority:        ticket.Priority,
		CreatedAt:       ticket.Timestamps.CreatedAt,
	}
	if ticket.AssignedTechnician != nil {
		summary.TechnicianName = ticket.AssignedTechnician.Name
	}
	return summary
}
