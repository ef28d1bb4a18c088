package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

// TicketFilter captures equality filters for ticket queries.
type TicketFilter struct {
	ReporterID *string
	AssigneeID *string
	Statuses   []domain.TicketStatus
	// Limit of zero returns every matching ticket.
	Limit int
}

// TicketRepository encapsulates breakdown persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Patch applies the field group atomically and returns the stored ticket.
	Patch(ctx context.Context, id string, patch domain.TicketPatch) (*domain.Ticket, error)
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, reporter_id, reporter_name, reporter_email, message, priority, status,
               assigned_technician_id, assigned_technician_name, fix_details,
               created_at, updated_at, approved_at, resolved_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO breakdowns (reporter_id, reporter_name, reporter_email, message, priority, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Reporter.ID,
		ticket.Reporter.Name,
		ticket.Reporter.Email,
		ticket.Message,
		string(ticket.Priority),
		string(ticket.Status),
	).Scan(&ticket.ID, &ticket.Timestamps.CreatedAt, &ticket.Timestamps.UpdatedAt)
}

func (r *ticketRepository) Patch(ctx context.Context, id string, patch domain.TicketPatch) (*domain.Ticket, error) {
	query := `
        UPDATE breakdowns SET
            status = COALESCE($2, status),
            assigned_technician_id = CASE WHEN $3::boolean THEN $4 ELSE assigned_technician_id END,
            assigned_technician_name = CASE WHEN $3::boolean THEN $5 ELSE assigned_technician_name END,
            fix_details = CASE WHEN $6::boolean THEN $7 ELSE fix_details END,
            approved_at = CASE WHEN $8::boolean THEN COALESCE(approved_at, NOW()) ELSE approved_at END,
            resolved_at = CASE WHEN $9::boolean THEN COALESCE(resolved_at, NOW()) ELSE resolved_at END,
            updated_at = NOW()
        WHERE id=$1 AND ($10::text IS NULL OR status=$10)
        RETURNING ` + ticketColumns

	var assigneeID, assigneeName *string
	if patch.AssignedTechnician != nil {
		assigneeID = &patch.AssignedTechnician.ID
		assigneeName = &patch.AssignedTechnician.Name
	}

	ticket, err := scanTicket(r.pool.QueryRow(ctx, query,
		id,
		statusArg(patch.Status),
		patch.AssignedTechnician != nil,
		assigneeID,
		assigneeName,
		patch.FixDetails != nil,
		patch.FixDetails,
		patch.StampApproved,
		patch.StampResolved,
		statusArg(patch.ExpectStatus),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM breakdowns WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.ReporterID != nil {
		args = append(args, *filter.ReporterID)
		clauses = append(clauses, fmt.Sprintf("reporter_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assigned_technician_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`SELECT %s FROM breakdowns WHERE %s ORDER BY created_at DESC`,
		ticketColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func statusArg(status *domain.TicketStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket       domain.Ticket
		priority     string
		status       string
		assigneeID   *string
		assigneeName *string
		approvedAt   *time.Time
		resolvedAt   *time.Time
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Reporter.ID,
		&ticket.Reporter.Name,
		&ticket.Reporter.Email,
		&ticket.Message,
		&priority,
		&status,
		&assigneeID,
		&assigneeName,
		&ticket.FixDetails,
		&ticket.Timestamps.CreatedAt,
		&ticket.Timestamps.UpdatedAt,
		&approvedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}
	ticket.Priority = domain.TicketPriority(priority)
	ticket.Status = domain.TicketStatus(status)
	if assigneeID != nil {
		assignee := domain.Assignee{ID: *assigneeID}
		if assigneeName != nil {
			assignee.Name = *assigneeName
		}
		ticket.AssignedTechnician = &assignee
	}
	ticket.Timestamps.ApprovedAt = approvedAt
	ticket.Timestamps.ResolvedAt = resolvedAt
	return &ticket, nil
}
