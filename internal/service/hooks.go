package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

// CommitKind names the mutation a hook is told about.
type CommitKind string

const (
	CommitTicketCreated CommitKind = "ticket_created"
	CommitStatusChanged CommitKind = "status_changed"
	CommitAssigned      CommitKind = "assigned"
	CommitFixDetails    CommitKind = "fix_details"
	CommitUpdatePosted  CommitKind = "update_posted"
)

// Commit describes a write that has been persisted.
type Commit struct {
	Kind      CommitKind
	Principal domain.Principal
	Ticket    domain.Ticket
	// Previous is the status before a status change.
	Previous domain.TicketStatus
	// Contact is the technician address supplied with an assignment.
	Contact string
}

// PostCommitHook runs after a mutation has committed. Its error is logged only.
type PostCommitHook func(ctx context.Context, commit Commit) error

// hookRunner runs hooks detached from the caller.
type hookRunner struct {
	hooks  []PostCommitHook
	logger *zap.Logger
	wg     sync.WaitGroup
}

func (r *hookRunner) run(ctx context.Context, commit Commit) {
	if len(r.hooks) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, hook := range r.hooks {
		r.wg.Add(1)
		go func(hook PostCommitHook) {
			defer r.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("post-commit hook panicked",
						zap.String("kind", string(commit.Kind)),
						zap.String("ticket_id", commit.Ticket.ID),
						zap.String("panic", fmt.Sprint(rec)),
						zap.ByteString("stack", debug.Stack()))
				}
			}()
			if err := hook(detached, commit); err != nil {
				r.logger.Warn("post-commit hook failed",
					zap.String("kind", string(commit.Kind)),
					zap.String("ticket_id", commit.Ticket.ID),
					zap.Error(err))
			}
		}(hook)
	}
}

func (r *hookRunner) wait() {
	r.wg.Wait()
}
