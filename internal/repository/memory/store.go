// Package memory provides an in-process implementation of the repository interfaces.
// Every write is serialized by one mutex, which mirrors the per-path atomicity of the
// real store, and every timestamp comes from the store clock.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/repository"
)

// Operation names accepted by FailNext.
const (
	OpTicketCreate  = "ticket.create"
	OpTicketPatch   = "ticket.patch"
	OpTicketRead    = "ticket.read"
	OpUpdateAppend  = "update.append"
	OpProfileCreate = "profile.create"
)

// Store holds tickets, update entries and profiles in memory.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	tickets  map[string]domain.Ticket
	updates  map[string][]domain.UpdateEntry
	profiles map[string]domain.Profile
	faults   map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		tickets:  map[string]domain.Ticket{},
		updates:  map[string][]domain.UpdateEntry{},
		profiles: map[string]domain.Profile{},
		faults:   map[string]error{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tickets returns the store as a TicketRepository.
func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s} }

// Updates returns the store as an UpdateRepository.
func (s *Store) Updates() repository.UpdateRepository { return updateRepo{s} }

// Profiles returns the store as a ProfileRepository.
func (s *Store) Profiles() repository.ProfileRepository { return profileRepo{s} }

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// fault must be called with mu held.
func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

// timestamp resolves a server timestamp; it never goes backwards. Caller holds mu.
func (s *Store) timestamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpTicketCreate); err != nil {
		return err
	}
	now := s.timestamp()
	ticket.ID = uuid.NewString()
	ticket.Timestamps = domain.Timestamps{CreatedAt: now, UpdatedAt: now}
	ticket.AssignedTechnician = nil
	ticket.FixDetails = nil
	ticket.Updates = nil
	s.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r ticketRepo) Patch(_ context.Context, id string, patch domain.TicketPatch) (*domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpTicketPatch); err != nil {
		return nil, err
	}
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.ExpectStatus != nil && ticket.Status != *patch.ExpectStatus {
		return nil, repository.ErrStatusMismatch
	}

	now := s.timestamp()
	if patch.Status != nil {
		ticket.Status = *patch.Status
	}
	if patch.AssignedTechnician != nil {
		assignee := *patch.AssignedTechnician
		ticket.AssignedTechnician = &assignee
	}
	if patch.FixDetails != nil {
		details := *patch.FixDetails
		ticket.FixDetails = &details
	}
	if patch.StampApproved && ticket.Timestamps.ApprovedAt == nil {
		ticket.Timestamps.ApprovedAt = &now
	}
	if patch.StampResolved && ticket.Timestamps.ResolvedAt == nil {
		ticket.Timestamps.ResolvedAt = &now
	}
	ticket.Timestamps.UpdatedAt = now
	s.tickets[id] = ticket

	out := cloneTicket(ticket)
	return &out, nil
}

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpTicketRead); err != nil {
		return nil, err
	}
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneTicket(ticket)
	return &out, nil
}

func (r ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpTicketRead); err != nil {
		return nil, err
	}

	var result []domain.Ticket
	for _, ticket := range s.tickets {
		if filter.ReporterID != nil && ticket.Reporter.ID != *filter.ReporterID {
			continue
		}
		if filter.AssigneeID != nil && !ticket.AssignedTo(*filter.AssigneeID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		result = append(result, cloneTicket(ticket))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamps.CreatedAt.After(result[j].Timestamps.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

type updateRepo struct{ s *Store }

func (r updateRepo) Append(_ context.Context, entry *domain.UpdateEntry) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpUpdateAppend); err != nil {
		return err
	}
	if _, ok := s.tickets[entry.TicketID]; !ok {
		return repository.ErrNotFound
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.timestamp()
	s.updates[entry.TicketID] = append(s.updates[entry.TicketID], cloneEntry(*entry))
	return nil
}

func (r updateRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.UpdateEntry, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.updates[ticketID]), nil
}

func (r updateRepo) ListByTickets(_ context.Context, ticketIDs []string) (map[string][]domain.UpdateEntry, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string][]domain.UpdateEntry, len(ticketIDs))
	for _, id := range ticketIDs {
		if entries := s.updates[id]; len(entries) > 0 {
			result[id] = cloneEntries(entries)
		}
	}
	return result, nil
}

type profileRepo struct{ s *Store }

func (r profileRepo) Create(_ context.Context, profile *domain.Profile) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpProfileCreate); err != nil {
		return err
	}
	for _, existing := range s.profiles {
		if strings.EqualFold(existing.Email, profile.Email) {
			return repository.ErrDuplicate
		}
	}
	now := s.timestamp()
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.CreatedAt = now
	profile.UpdatedAt = now
	s.profiles[profile.ID] = *profile
	return nil
}

func (r profileRepo) Update(_ context.Context, profile *domain.Profile) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.profiles[profile.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.DisplayName = profile.DisplayName
	existing.Role = profile.Role
	existing.PasswordHash = profile.PasswordHash
	existing.UpdatedAt = s.timestamp()
	s.profiles[profile.ID] = existing
	profile.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r profileRepo) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &profile, nil
}

func (r profileRepo) GetByEmail(_ context.Context, email string) (*domain.Profile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, profile := range s.profiles {
		if strings.EqualFold(profile.Email, email) {
			p := profile
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r profileRepo) ListByRole(_ context.Context, role domain.Role) ([]domain.Profile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Profile
	for _, profile := range s.profiles {
		if profile.Role == role {
			result = append(result, profile)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DisplayName < result[j].DisplayName })
	return result, nil
}

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.AssignedTechnician != nil {
		assignee := *t.AssignedTechnician
		t.AssignedTechnician = &assignee
	}
	if t.FixDetails != nil {
		details := *t.FixDetails
		t.FixDetails = &details
	}
	if t.Timestamps.ApprovedAt != nil {
		at := *t.Timestamps.ApprovedAt
		t.Timestamps.ApprovedAt = &at
	}
	if t.Timestamps.ResolvedAt != nil {
		at := *t.Timestamps.ResolvedAt
		t.Timestamps.ResolvedAt = &at
	}
	t.Updates = cloneEntries(t.Updates)
	return t
}

func cloneEntry(e domain.UpdateEntry) domain.UpdateEntry {
	if e.Status != nil {
		status := *e.Status
		e.Status = &status
	}
	return e
}

func cloneEntries(entries []domain.UpdateEntry) []domain.UpdateEntry {
	if entries == nil {
		return nil
	}
	out := make([]domain.UpdateEntry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}
