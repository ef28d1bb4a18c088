package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/events"
	"github.com/spec-kit/breakdown-service/internal/repository/memory"
	"github.com/spec-kit/breakdown-service/internal/workflow"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

var (
	reporter   = domain.Principal{ID: "rep-1", Email: "rita@example.com", DisplayName: "Rita", Role: domain.RoleReporter}
	otherRep   = domain.Principal{ID: "rep-2", Email: "ron@example.com", DisplayName: "Ron", Role: domain.RoleReporter}
	manager    = domain.Principal{ID: "mgr-1", Email: "mia@example.com", DisplayName: "Mia", Role: domain.RoleManager}
	technician = domain.Principal{ID: "tech-1", Email: "tess@example.com", DisplayName: "Tess", Role: domain.RoleTechnician}
	otherTech  = domain.Principal{ID: "tech-2", Email: "tom@example.com", DisplayName: "Tom", Role: domain.RoleTechnician}
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []domain.AssignmentSummary
	to    []string
	err   error
	block chan struct{}
}

func (n *recordingNotifier) NotifyAssignment(_ context.Context, contact string, summary domain.AssignmentSummary) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, summary)
	n.to = append(n.to, contact)
	return n.err
}

type testEnv struct {
	store      *memory.Store
	gateway    *Gateway
	dispatcher events.Dispatcher
	notifier   *recordingNotifier
}

func newTestEnv(t *testing.T, policy workflow.Policy) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	dispatcher := events.NewInMemoryDispatcher(logger)
	notifier := &recordingNotifier{}
	gateway := NewGateway(GatewayDependencies{
		TicketRepo: store.Tickets(),
		UpdateLog:  NewUpdateLog(store.Updates()),
		Dispatcher: dispatcher,
		Policy:     policy,
		Hooks:      []PostCommitHook{AssignmentNotificationHook(notifier, logger)},
		Logger:     logger,
	})
	return &testEnv{store: store, gateway: gateway, dispatcher: dispatcher, notifier: notifier}
}

func (e *testEnv) createTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, err := e.gateway.CreateTicket(context.Background(), reporter, CreateTicketInput{
		Message:  "Compressor failure on line 3",
		Priority: domain.TicketPriorityHigh,
	})
	require.NoError(t, err)
	return ticket
}

func (e *testEnv) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := e.gateway.GetTicket(context.Background(), manager, id)
	require.NoError(t, err)
	return ticket
}

func TestCreateTicket_StartsPending(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: true})
	ticket := env.createTicket(t)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	assert.Nil(t, ticket.AssignedTechnician)
	assert.Nil(t, ticket.FixDetails)
	assert.False(t, ticket.Timestamps.CreatedAt.IsZero())
	assert.Equal(t, ticket.Timestamps.CreatedAt, ticket.Timestamps.UpdatedAt)
	assert.Nil(t, ticket.Timestamps.ApprovedAt)
	assert.Equal(t, domain.Reporter{ID: reporter.ID, Name: "Rita", Email: "rita@example.com"}, ticket.Reporter)
}

func TestCreateTicket_Validation(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ctx := context.Background()

	_, err := env.gateway.CreateTicket(ctx, reporter, CreateTicketInput{Message: "   "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = env.gateway.CreateTicket(ctx, reporter, CreateTicketInput{Message: "<b></b>"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "markup only counts as empty")

	_, err = env.gateway.CreateTicket(ctx, reporter, CreateTicketInput{Message: "ok", Priority: "urgent"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = env.gateway.CreateTicket(ctx, manager, CreateTicketInput{Message: "ok"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	ticket, err := env.gateway.CreateTicket(ctx, reporter, CreateTicketInput{Message: "Belt <script>x</script>slipping & loud"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, "Belt slipping & loud", ticket.Message)
}

func TestCreateTicket_StoreError(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	env.store.FailNext(memory.OpTicketCreate, errors.New("connection reset"))

	_, err := env.gateway.CreateTicket(context.Background(), reporter, CreateTicketInput{Message: "Leak"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStore))
}

func TestTransition_ManagerApprovesStampsApprovedAt(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: true})
	ticket := env.createTicket(t)

	updated, err := env.gateway.Transition(context.Background(), manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusApproved, updated.Status)
	require.NotNil(t, updated.Timestamps.ApprovedAt)
	assert.True(t, updated.Timestamps.UpdatedAt.After(ticket.Timestamps.UpdatedAt))
	require.Len(t, updated.Updates, 1)
	assert.Equal(t, "Status changed to Approved", updated.Updates[0].Message)
	assert.Equal(t, domain.Author{ID: manager.ID, Name: "Mia"}, updated.Updates[0].Author)
	require.NotNil(t, updated.Updates[0].Status)
	assert.Equal(t, domain.TicketStatusApproved, *updated.Updates[0].Status)
}

func TestTransition_UnassignedTechnicianDenied(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: true})
	ctx := context.Background()
	ticket := env.createTicket(t)

	_, err := env.gateway.Assign(ctx, manager, ticket.ID, domain.Assignee{ID: technician.ID, Name: "Tess"}, technician.Email)
	require.NoError(t, err)
	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	before := env.reload(t, ticket.ID)

	_, err = env.gateway.Transition(ctx, otherTech, ticket.ID, TransitionInput{Status: domain.TicketStatusInProgress})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	after := env.reload(t, ticket.ID)
	assert.Equal(t, before, after)
}

func TestTransition_AssignedWorkStartsAndResolves(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: true})
	ctx := context.Background()
	ticket := env.createTicket(t)

	_, err := env.gateway.Assign(ctx, manager, ticket.ID, domain.Assignee{ID: technician.ID, Name: "Tess"}, technician.Email)
	require.NoError(t, err)
	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	updated, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusInProgress})
	require.NoError(t, err)

	require.NotNil(t, updated.AssignedTechnician)
	assert.Equal(t, technician.ID, updated.AssignedTechnician.ID)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)

	resolved, err := env.gateway.Transition(ctx, technician, ticket.ID, TransitionInput{
		Status:     domain.TicketStatusResolved,
		FixDetails: strPtr("Replaced the pressure valve"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
	require.NotNil(t, resolved.FixDetails)
	assert.Equal(t, "Replaced the pressure valve", *resolved.FixDetails)
	require.NotNil(t, resolved.Timestamps.ResolvedAt)
}

func TestTransition_TerminalStatusRejectsEverything(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: false})
	ctx := context.Background()
	ticket := env.createTicket(t)

	_, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusResolved})
	require.NoError(t, err)

	for _, to := range []domain.TicketStatus{
		domain.TicketStatusPending,
		domain.TicketStatusApproved,
		domain.TicketStatusInProgress,
		domain.TicketStatusResolved,
		domain.TicketStatusRejected,
	} {
		for _, p := range []domain.Principal{manager, technician, reporter} {
			_, err := env.gateway.Transition(ctx, p, ticket.ID, TransitionInput{Status: to})
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "%s -> %s by %s", domain.TicketStatusResolved, to, p.Role)
		}
	}
}

func TestTransition_ReporterHasNoTransitionRights(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ticket := env.createTicket(t)

	_, err := env.gateway.Transition(context.Background(), reporter, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Equal(t, domain.TicketStatusPending, env.reload(t, ticket.ID).Status)
}

func TestTransition_RequireAssignment(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: true})
	ctx := context.Background()
	ticket := env.createTicket(t)

	_, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusInProgress})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestTransition_NotFoundAndUnknownStatus(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ctx := context.Background()

	_, err := env.gateway.Transition(ctx, manager, "missing", TransitionInput{Status: domain.TicketStatusApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	ticket := env.createTicket(t)
	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: "closed"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestTransition_StampsAreWriteOnce(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: false})
	ctx := context.Background()
	ticket := env.createTicket(t)

	approved, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	approvedAt := *approved.Timestamps.ApprovedAt

	started, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, approvedAt, *started.Timestamps.ApprovedAt)
	assert.Nil(t, started.Timestamps.ResolvedAt)

	resolved, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusResolved})
	require.NoError(t, err)
	assert.Equal(t, approvedAt, *resolved.Timestamps.ApprovedAt)
	require.NotNil(t, resolved.Timestamps.ResolvedAt)
}

func TestTransition_LogFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ticket := env.createTicket(t)
	env.store.FailNext(memory.OpUpdateAppend, errors.New("log unavailable"))

	updated, err := env.gateway.Transition(context.Background(), manager, ticket.ID, TransitionInput{Status: domain.TicketStatusRejected})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusRejected, updated.Status)
	assert.Empty(t, env.reload(t, ticket.ID).Updates)
}

func TestTransition_PatchFailureLeavesTicketUntouched(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ticket := env.createTicket(t)
	env.store.FailNext(memory.OpTicketPatch, errors.New("timeout"))

	_, err := env.gateway.Transition(context.Background(), manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStore))

	after := env.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusPending, after.Status)
	assert.Nil(t, after.Timestamps.ApprovedAt)
	assert.Empty(t, after.Updates)
}

func TestTransition_ConcurrentManagersOneWins(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ticket := env.createTicket(t)

	targets := []domain.TicketStatus{domain.TicketStatusApproved, domain.TicketStatusRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to domain.TicketStatus) {
			defer wg.Done()
			_, errs[i] = env.gateway.Transition(context.Background(), manager, ticket.ID, TransitionInput{Status: to})
		}(i, to)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, env.reload(t, ticket.ID).Updates, 1)
}

func TestAssign_RulesAndNotification(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ctx := context.Background()
	ticket := env.createTicket(t)
	tess := domain.Assignee{ID: technician.ID, Name: "Tess"}

	_, err := env.gateway.Assign(ctx, technician, ticket.ID, tess, technician.Email)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = env.gateway.Assign(ctx, manager, ticket.ID, domain.Assignee{ID: "x"}, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	updated, err := env.gateway.Assign(ctx, manager, ticket.ID, tess, technician.Email)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, updated.Status, "assignment does not change status")
	assert.Equal(t, &tess, updated.AssignedTechnician)
	assert.True(t, updated.Timestamps.UpdatedAt.After(ticket.Timestamps.UpdatedAt))

	env.gateway.Wait()
	env.notifier.mu.Lock()
	require.Len(t, env.notifier.calls, 1)
	summary := env.notifier.calls[0]
	assert.Equal(t, technician.Email, env.notifier.to[0])
	env.notifier.mu.Unlock()
	assert.Equal(t, ticket.ID, summary.TicketID)
	assert.Equal(t, "Tess", summary.TechnicianName)
	assert.Equal(t, "Compressor failure on line 3", summary.TaskDescription)
	assert.Equal(t, "Rita", summary.ReporterName)
	assert.Equal(t, "rita@example.com", summary.ReporterEmail)
	assert.Equal(t, domain.TicketPriorityHigh, summary.Priority)
	assert.Equal(t, ticket.Timestamps.CreatedAt, summary.CreatedAt)

	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	_, err = env.gateway.Assign(ctx, manager, ticket.ID, tess, technician.Email)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "assignment only while pending")
}

func TestAssign_NotificationNeverBlocksOrFails(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	env.notifier.err = errors.New("smtp down")
	env.notifier.block = make(chan struct{})
	ticket := env.createTicket(t)

	done := make(chan error, 1)
	go func() {
		_, err := env.gateway.Assign(context.Background(), manager, ticket.ID, domain.Assignee{ID: technician.ID, Name: "Tess"}, technician.Email)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("assignment waited for the notifier")
	}
	close(env.notifier.block)
	env.gateway.Wait()
}

func TestAssign_PanickingHookIsContained(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	gateway := NewGateway(GatewayDependencies{
		TicketRepo: store.Tickets(),
		UpdateLog:  NewUpdateLog(store.Updates()),
		Hooks: []PostCommitHook{func(context.Context, Commit) error {
			panic("boom")
		}},
		Logger: logger,
	})
	ticket, err := gateway.CreateTicket(context.Background(), reporter, CreateTicketInput{Message: "Leak"})
	require.NoError(t, err)

	_, err = gateway.Assign(context.Background(), manager, ticket.ID, domain.Assignee{ID: technician.ID, Name: "Tess"}, "")
	require.NoError(t, err)
	gateway.Wait()
}

func TestSetFixDetails(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ctx := context.Background()
	ticket := env.createTicket(t)
	_, err := env.gateway.Assign(ctx, manager, ticket.ID, domain.Assignee{ID: technician.ID, Name: "Tess"}, "")
	require.NoError(t, err)

	_, err = env.gateway.SetFixDetails(ctx, otherTech, ticket.ID, "guess")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	_, err = env.gateway.SetFixDetails(ctx, reporter, ticket.ID, "guess")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	_, err = env.gateway.SetFixDetails(ctx, technician, ticket.ID, " ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	updated, err := env.gateway.SetFixDetails(ctx, technician, ticket.ID, "Tightened fittings")
	require.NoError(t, err)
	assert.Equal(t, "Tightened fittings", *updated.FixDetails)
	assert.Equal(t, domain.TicketStatusPending, updated.Status)
}

func TestPostUpdate_AppendOnlyAndOrdered(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ctx := context.Background()
	ticket := env.createTicket(t)

	_, err := env.gateway.PostUpdate(ctx, otherRep, ticket.ID, "me too")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	_, err = env.gateway.PostUpdate(ctx, reporter, ticket.ID, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	var seen []domain.UpdateEntry
	steps := []func() error{
		func() error { _, err := env.gateway.PostUpdate(ctx, reporter, ticket.ID, "Still leaking"); return err },
		func() error {
			_, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
			return err
		},
		func() error { _, err := env.gateway.PostUpdate(ctx, technician, ticket.ID, "On my way"); return err },
		func() error {
			_, err := env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: "bogus"})
			return err
		},
		func() error { _, err := env.gateway.PostUpdate(ctx, manager, ticket.ID, "Parts ordered"); return err },
	}
	for _, step := range steps {
		_ = step()
		current := env.reload(t, ticket.ID).Updates
		require.GreaterOrEqual(t, len(current), len(seen))
		for i := range seen {
			assert.Equal(t, seen[i], current[i], "existing entries never change")
		}
		for i := 1; i < len(current); i++ {
			assert.False(t, current[i].CreatedAt.Before(current[i-1].CreatedAt))
		}
		seen = current
	}

	messages := make([]string, len(seen))
	for i, e := range seen {
		messages[i] = e.Message
	}
	assert.Equal(t, []string{"Still leaking", "Status changed to Approved", "On my way", "Parts ordered"}, messages)
}

func TestGetTicket_ReporterScope(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	ticket := env.createTicket(t)

	_, err := env.gateway.GetTicket(context.Background(), otherRep, ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	got, err := env.gateway.GetTicket(context.Background(), reporter, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
}

func TestAllowedActions(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{RequireAssignment: true})
	ctx := context.Background()
	ticket := env.createTicket(t)

	actions, err := env.gateway.AllowedActions(ctx, manager, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.TicketStatus{domain.TicketStatusApproved, domain.TicketStatusRejected}, actions.Transitions)
	assert.True(t, actions.CanAssign)

	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	actions, err = env.gateway.AllowedActions(ctx, manager, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, actions.Transitions, "unassigned approved ticket cannot move")
	assert.False(t, actions.CanAssign)

	actions, err = env.gateway.AllowedActions(ctx, reporter, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, actions.Transitions)
	assert.True(t, actions.CanPostUpdate)
	assert.False(t, actions.CanEditFixDetails)
}

func TestGateway_PublishesChangeEvents(t *testing.T) {
	env := newTestEnv(t, workflow.Policy{})
	var (
		mu    sync.Mutex
		types []events.EventType
	)
	env.dispatcher.Subscribe(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
		return nil
	})

	ctx := context.Background()
	ticket := env.createTicket(t)
	_, err := env.gateway.Assign(ctx, manager, ticket.ID, domain.Assignee{ID: technician.ID, Name: "Tess"}, "")
	require.NoError(t, err)
	_, err = env.gateway.Transition(ctx, manager, ticket.ID, TransitionInput{Status: domain.TicketStatusApproved})
	require.NoError(t, err)
	_, err = env.gateway.PostUpdate(ctx, reporter, ticket.ID, "thanks")
	require.NoError(t, err)
	_, err = env.gateway.Transition(ctx, reporter, ticket.ID, TransitionInput{Status: domain.TicketStatusResolved})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketAssigned,
		events.EventTicketStatusChanged,
		events.EventUpdateAppended,
	}, types)
}

func strPtr(s string) *string { return &s }
