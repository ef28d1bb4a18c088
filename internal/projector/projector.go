// Package projector turns store content into per-viewer snapshots and keeps
// attached viewers current by re-deriving the whole view on every change.
package projector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/events"
	"github.com/spec-kit/breakdown-service/internal/observability"
	"github.com/spec-kit/breakdown-service/internal/repository"
	"github.com/spec-kit/breakdown-service/internal/service"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

// Projector derives views and manages live subscriptions.
type Projector struct {
	tickets    repository.TicketRepository
	profiles   repository.ProfileRepository
	log        *service.UpdateLog
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Dependencies bundles collaborators for the projector.
type Dependencies struct {
	TicketRepo  repository.TicketRepository
	ProfileRepo repository.ProfileRepository
	UpdateLog   *service.UpdateLog
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// New creates a projector.
func New(deps Dependencies) *Projector {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		tickets:    deps.TicketRepo,
		profiles:   deps.ProfileRepo,
		log:        deps.UpdateLog,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// Authorize resolves the requested scope for principal. An empty scope picks the role default.
func Authorize(principal domain.Principal, scope Scope) (Scope, error) {
	if scope == "" {
		scope = DefaultScope(principal.Role)
	}
	if !scope.Valid() {
		return "", apperrors.NewValidationError("unknown view scope", map[string]any{"scope": scope})
	}
	switch scope {
	case ScopeBoard:
		if principal.Role != domain.RoleManager && principal.Role != domain.RoleTechnician {
			return "", apperrors.NewForbidden("board view requires manager or technician role")
		}
	case ScopeAssigned:
		if principal.Role != domain.RoleTechnician {
			return "", apperrors.NewForbidden("assigned view requires technician role")
		}
	case ScopeOwn:
		if principal.Role != domain.RoleReporter {
			return "", apperrors.NewForbidden("own view requires reporter role")
		}
	}
	return scope, nil
}

// Snapshot derives the current view once.
func (p *Projector) Snapshot(ctx context.Context, principal domain.Principal, scope Scope) (*View, error) {
	scope, err := Authorize(principal, scope)
	if err != nil {
		return nil, err
	}
	return p.build(ctx, principal, scope)
}

// Attach opens a live subscription. The first snapshot is derived before Attach returns,
// so a failing store is reported here rather than on the channel.
func (p *Projector) Attach(ctx context.Context, principal domain.Principal, scope Scope) (*Subscription, error) {
	scope, err := Authorize(principal, scope)
	if err != nil {
		return nil, err
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		principal: principal,
		scope:     scope,
		updates:   make(chan *View, 1),
		refresh:   make(chan struct{}, 1),
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	// subscribe before the first read so a change committed while it runs
	// still leaves a pending refresh
	if p.dispatcher != nil {
		sub.unsubscribe = p.dispatcher.Subscribe(func(context.Context, events.Event) error {
			sub.signal()
			return nil
		})
	}
	initial, err := p.build(ctx, principal, scope)
	if err != nil {
		if sub.unsubscribe != nil {
			sub.unsubscribe()
		}
		cancel()
		return nil, err
	}
	sub.offer(initial)
	p.metrics.ViewAttached(1)

	go p.run(loopCtx, sub)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.stopped:
		}
	}()
	return sub, nil
}

func (p *Projector) run(ctx context.Context, sub *Subscription) {
	defer close(sub.stopped)
	defer p.metrics.ViewAttached(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.refresh:
			view, err := p.build(ctx, sub.principal, sub.scope)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// keep the last delivered snapshot; the next change retries
				p.logger.Warn("view refresh failed",
					zap.String("principal_id", sub.principal.ID),
					zap.String("scope", string(sub.scope)),
					zap.Error(err))
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				sub.offer(view)
			}
		}
	}
}

func (p *Projector) build(ctx context.Context, principal domain.Principal, scope Scope) (*View, error) {
	filter := repository.TicketFilter{}
	switch scope {
	case ScopeOwn:
		filter.ReporterID = &principal.ID
	case ScopeAssigned:
		filter.AssigneeID = &principal.ID
	}

	tickets, err := p.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	if p.log != nil {
		if err := p.log.Attach(ctx, tickets); err != nil {
			return nil, err
		}
	}

	view := Derive(scope, tickets)
	view.GeneratedAt = p.now().UTC()

	if scope == ScopeBoard && principal.Role == domain.RoleManager && p.profiles != nil {
		technicians, err := p.profiles.ListByRole(ctx, domain.RoleTechnician)
		if err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		view.Technicians = make([]Technician, 0, len(technicians))
		for _, t := range technicians {
			view.Technicians = append(view.Technicians, Technician{ID: t.ID, Name: t.DisplayName, Email: t.Email})
		}
	}
	return view, nil
}

// Subscription delivers the latest view of one viewer.
type Subscription struct {
	principal   domain.Principal
	scope       Scope
	updates     chan *View
	refresh     chan struct{}
	cancel      context.CancelFunc
	unsubscribe func()
	stopped     chan struct{}

	mu       sync.Mutex
	sequence uint64
	closed   bool
}

// Updates yields snapshots. Only the newest undelivered snapshot is kept.
// The channel is closed once the subscription is closed.
func (s *Subscription) Updates() <-chan *View {
	return s.updates
}

// Scope returns the resolved scope.
func (s *Subscription) Scope() Scope {
	return s.scope
}

// Principal returns the viewer.
func (s *Subscription) Principal() domain.Principal {
	return s.principal
}

// Done is closed when the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.stopped
}

// Close releases the subscription. It is synchronous and safe to call repeatedly;
// once it returns no further snapshots are delivered.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	<-s.stopped

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.updates:
	default:
	}
	close(s.updates)
}

// signal requests a refresh; pending requests coalesce.
func (s *Subscription) signal() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// offer replaces any undelivered snapshot with v.
func (s *Subscription) offer(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sequence++
	v.Sequence = s.sequence
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}
