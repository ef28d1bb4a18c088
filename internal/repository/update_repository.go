package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

// UpdateRepository stores the append-only activity log of tickets.
// It deliberately has no update or delete operation.
type UpdateRepository interface {
	Append(ctx context.Context, entry *domain.UpdateEntry) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.UpdateEntry, error)
	ListByTickets(ctx context.Context, ticketIDs []string) (map[string][]domain.UpdateEntry, error)
}

type updateRepository struct {
	pool *pgxpool.Pool
}

// NewUpdateRepository builds repository.
func NewUpdateRepository(pool *pgxpool.Pool) UpdateRepository {
	return &updateRepository{pool: pool}
}

func (r *updateRepository) Append(ctx context.Context, entry *domain.UpdateEntry) error {
	const query = `
        INSERT INTO breakdown_updates (breakdown_id, author_id, author_name, message, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.TicketID,
		entry.Author.ID,
		entry.Author.Name,
		entry.Message,
		statusArg(entry.Status),
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *updateRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.UpdateEntry, error) {
	const query = `
        SELECT id, breakdown_id, author_id, author_name, message, status, created_at
        FROM breakdown_updates WHERE breakdown_id=$1`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUpdates(rows)
}

func (r *updateRepository) ListByTickets(ctx context.Context, ticketIDs []string) (map[string][]domain.UpdateEntry, error) {
	result := make(map[string][]domain.UpdateEntry, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return result, nil
	}
	const query = `
        SELECT id, breakdown_id, author_id, author_name, message, status, created_at
        FROM breakdown_updates WHERE breakdown_id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanUpdates(rows)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		result[entry.TicketID] = append(result[entry.TicketID], entry)
	}
	return result, nil
}

func scanUpdates(rows pgx.Rows) ([]domain.UpdateEntry, error) {
	var result []domain.UpdateEntry
	for rows.Next() {
		var (
			entry  domain.UpdateEntry
			status *string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.Author.ID,
			&entry.Author.Name,
			&entry.Message,
			&status,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if status != nil {
			s := domain.TicketStatus(*status)
			entry.Status = &s
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
