package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound aliases pgx.ErrNoRows so every backend reports missing rows the same way.
	ErrNotFound = pgx.ErrNoRows
	// ErrStatusMismatch is returned by TicketRepository.Patch when the compare-and-swap guard fails.
	ErrStatusMismatch = errors.New("ticket status changed concurrently")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate key")
)
