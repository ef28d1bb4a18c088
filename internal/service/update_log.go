package service

import (
	"context"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/repository"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

// MaxMessageLength bounds free-text messages on tickets and update entries.
const MaxMessageLength = 4000

// UpdateLog is the append-only history attached to each ticket.
type UpdateLog struct {
	updates repository.UpdateRepository
	policy  *bluemonday.Policy
}

// NewUpdateLog creates the log over the given repository.
func NewUpdateLog(updates repository.UpdateRepository) *UpdateLog {
	return &UpdateLog{updates: updates, policy: bluemonday.StrictPolicy()}
}

// Append stores a new entry. The store assigns ID and CreatedAt.
func (l *UpdateLog) Append(ctx context.Context, ticketID string, author domain.Author, message string, status *domain.TicketStatus) (*domain.UpdateEntry, error) {
	clean, err := l.cleanMessage(message)
	if err != nil {
		return nil, err
	}
	entry := &domain.UpdateEntry{
		TicketID: ticketID,
		Author:   author,
		Message:  clean,
		Status:   status,
	}
	if err := l.updates.Append(ctx, entry); err != nil {
		return nil, storeError("ticket", ticketID, err)
	}
	return entry, nil
}

// List returns the entries of a ticket oldest first.
func (l *UpdateLog) List(ctx context.Context, ticketID string) ([]domain.UpdateEntry, error) {
	entries, err := l.updates.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, storeError("ticket", ticketID, err)
	}
	SortEntries(entries)
	return entries, nil
}

// Attach fills Updates on every ticket with one batched read.
func (l *UpdateLog) Attach(ctx context.Context, tickets []domain.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	ids := make([]string, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].ID
	}
	byTicket, err := l.updates.ListByTickets(ctx, ids)
	if err != nil {
		return apperrors.NewStoreError(err)
	}
	for i := range tickets {
		entries := byTicket[tickets[i].ID]
		SortEntries(entries)
		tickets[i].Updates = entries
	}
	return nil
}

// SortEntries orders entries by CreatedAt ascending, breaking ties by ID.
func SortEntries(entries []domain.UpdateEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].CreatedAt, entries[j].CreatedAt
		if a.Equal(b) {
			return entries[i].ID < entries[j].ID
		}
		return a.Before(b)
	})
}

func (l *UpdateLog) cleanMessage(message string) (string, error) {
	return sanitizeText(l.policy, message, "message")
}

// sanitizeText strips markup and rejects blank or oversized input.
func sanitizeText(policy *bluemonday.Policy, value, field string) (string, error) {
	clean := strings.TrimSpace(html.UnescapeString(policy.Sanitize(value)))
	if clean == "" {
		return "", apperrors.NewValidationError(field+" is required", map[string]any{"field": field})
	}
	if len(clean) > MaxMessageLength {
		return "", apperrors.NewValidationError(field+" is too long", map[string]any{
			"field": field,
			"max":   MaxMessageLength,
		})
	}
	return clean, nil
}
