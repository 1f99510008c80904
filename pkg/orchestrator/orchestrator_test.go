package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/hitl"
	"github.com/harun/deskd/pkg/reasoner"
	"github.com/harun/deskd/pkg/specialist"
	"github.com/harun/deskd/pkg/supervisor"
	"github.com/harun/deskd/pkg/tools"
)

type memoryAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *memoryAuditor) Record(event string, _ map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *memoryAuditor) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixture struct {
	orch    *Orchestrator
	store   conversation.Store
	gate    *hitl.Gate
	auditor *memoryAuditor
}

func refundRegistry(t *testing.T, refundHandler tools.Handler) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()

	require.NoError(t, registry.Register(tools.Definition{
		Name:        "lookup_transactions",
		Description: "List captured charges for an order",
		Parameters: []tools.Parameter{
			{Name: "order_id", Type: "string", Description: "order identifier", Required: true},
		},
		SideEffect: tools.SideEffectReadOnly,
		Approval:   tools.ApprovalPolicy{Mode: tools.ApprovalNever},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"order_id": args["order_id"], "captured_charges": 2, "amount": 49.99}, nil
		},
	}))

	if refundHandler == nil {
		refundHandler = func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"refund_id": "rf-1029", "status": "issued"}, nil
		}
	}
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "issue_refund",
		Description: "Issue a refund to the customer",
		Parameters: []tools.Parameter{
			{Name: "amount", Type: "number", Description: "refund amount", Required: true},
			{Name: "currency", Type: "string", Description: "ISO currency code"},
		},
		SideEffect: tools.SideEffectMutating,
		Approval: tools.ApprovalPolicy{
			Mode:          tools.ApprovalAboveThreshold,
			AmountField:   "amount",
			CurrencyField: "currency",
		},
		Handler: refundHandler,
	}))

	return registry
}

func newFixture(t *testing.T, registry *tools.Registry, billingScript []reasoner.Decision) *fixture {
	t.Helper()
	return newFixtureWithBilling(t, registry, reasoner.NewScriptedProposer(billingScript, ""))
}

func newFixtureWithBilling(t *testing.T, registry *tools.Registry, billingProposer reasoner.Proposer) *fixture {
	t.Helper()

	store, err := conversation.NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	thresholds := tools.Thresholds{
		Limits:          map[string]float64{"USD": 1000},
		DefaultCurrency: "USD",
	}

	billing, err := specialist.New(specialist.Config{
		Name:       supervisor.AgentBilling,
		Proposer:   billingProposer,
		Registry:   registry,
		Thresholds: thresholds,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	returns, err := specialist.New(specialist.Config{
		Name:       supervisor.AgentReturns,
		Proposer:   reasoner.NewScriptedProposer(nil, "Your return label is on its way."),
		Registry:   registry,
		Thresholds: thresholds,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	troubleshoot, err := specialist.New(specialist.Config{
		Name:       supervisor.AgentTroubleshoot,
		Proposer:   reasoner.NewScriptedProposer(nil, "Try a factory reset first."),
		Registry:   registry,
		Thresholds: thresholds,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	gate, err := hitl.New(hitl.Config{Store: store, Registry: registry, Logger: zerolog.Nop()})
	require.NoError(t, err)

	auditor := &memoryAuditor{}
	orch, err := New(Config{
		Store:      store,
		Supervisor: supervisor.New(supervisor.Config{Logger: zerolog.Nop()}),
		Agents:     []*specialist.Engine{billing, returns, troubleshoot},
		Gate:       gate,
		Auditor:    auditor,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	return &fixture{orch: orch, store: store, gate: gate, auditor: auditor}
}

func toolCall(name string, args map[string]interface{}) reasoner.Decision {
	return reasoner.Decision{Kind: reasoner.DecideToolCall, ToolCall: &reasoner.ToolRequest{Name: name, Args: args}}
}

func answer(text string) reasoner.Decision {
	return reasoner.Decision{Kind: reasoner.DecideAnswer, Answer: text}
}

func TestRefundBelowThresholdAnswersDirectly(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		toolCall("lookup_transactions", map[string]interface{}{"order_id": "1029"}),
		toolCall("issue_refund", map[string]interface{}{"amount": 49.99, "currency": "USD"}),
		answer("I found the duplicate charge and refunded 49.99 USD (confirmation rf-1029)."),
	})

	result, err := f.orch.HandleTurn(context.Background(), "t1", "I was charged twice for order 1029")
	require.NoError(t, err)
	require.Equal(t, TurnAnswered, result.Kind)
	assert.Contains(t, result.Answer, "rf-1029")

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusCompleted, thread.Checkpoint.Status)

	roles := []string{}
	for _, turn := range thread.Turns {
		roles = append(roles, turn.Role)
	}
	assert.Equal(t, []string{
		conversation.RoleUser,
		conversation.RoleTool,
		conversation.RoleTool,
		conversation.RoleAgent,
	}, roles)
}

func TestRefundAboveThresholdSuspendsThenApproves(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		toolCall("issue_refund", map[string]interface{}{"amount": float64(75000), "currency": "USD"}),
		answer("The 75000 USD refund has been issued after review."),
	})

	result, err := f.orch.HandleTurn(context.Background(), "t1", "refund my order, 75000 dollars were taken")
	require.NoError(t, err)
	require.Equal(t, TurnPendingApproval, result.Kind)
	assert.Contains(t, result.Summary, "review")

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusAwaitingApproval, thread.Checkpoint.Status)

	require.NoError(t, f.gate.Resume(context.Background(), "t1", hitl.ApprovalDecision{Approve: true, Reviewer: "lena"}))

	thread, err = f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusCompleted, thread.Checkpoint.Status)

	last := thread.Turns[len(thread.Turns)-1]
	assert.Equal(t, conversation.RoleAgent, last.Role)
	assert.Contains(t, last.Content, "issued after review")
}

func TestRefundDeniedProducesAlternativeAnswer(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		toolCall("issue_refund", map[string]interface{}{"amount": float64(75000), "currency": "USD"}),
		answer("I can't refund that amount, but I can offer store credit instead."),
	})

	result, err := f.orch.HandleTurn(context.Background(), "t1", "refund my order")
	require.NoError(t, err)
	require.Equal(t, TurnPendingApproval, result.Kind)

	require.NoError(t, f.gate.Resume(context.Background(), "t1", hitl.ApprovalDecision{
		Approve: false,
		Note:    "amount too large for automatic refund",
	}))

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusCompleted, thread.Checkpoint.Status)

	last := thread.Turns[len(thread.Turns)-1]
	assert.Contains(t, last.Content, "store credit")
}

func TestNewMessageRejectedWhileAwaitingApproval(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		toolCall("issue_refund", map[string]interface{}{"amount": float64(75000), "currency": "USD"}),
	})

	_, err := f.orch.HandleTurn(context.Background(), "t1", "refund my order")
	require.NoError(t, err)

	result, err := f.orch.HandleTurn(context.Background(), "t1", "any update on the refund?")
	require.NoError(t, err)
	assert.Equal(t, TurnPendingApproval, result.Kind)
	assert.Contains(t, result.Summary, "pending approval")

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusAwaitingApproval, thread.Checkpoint.Status, "suspended run must stay untouched")
}

func TestSecondMessageRejectedWhileRunExecutes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	proposer := reasoner.ProposerFunc(func(context.Context, reasoner.Task, []conversation.ScratchEntry) (reasoner.Decision, error) {
		once.Do(func() { close(entered) })
		<-release
		return answer("I found the duplicate charge and refunded it."), nil
	})

	f := newFixtureWithBilling(t, refundRegistry(t, nil), proposer)

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.HandleTurn(context.Background(), "t1", "I was charged twice for order 1029")
		firstDone <- err
	}()
	<-entered

	// The first turn holds the thread's running checkpoint; a second
	// message must be rejected at claim time, before its engine runs.
	_, err := f.orch.HandleTurn(context.Background(), "t1", "any update on my refund?")
	require.Error(t, err)
	assert.True(t, IsBusy(err))

	close(release)
	require.NoError(t, <-firstDone)

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusCompleted, thread.Status())
}

func TestRepeatedToolFailureEscalates(t *testing.T) {
	failing := func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		return nil, errors.New("payment gateway unavailable")
	}
	script := make([]reasoner.Decision, 0, 8)
	for i := 0; i < 8; i++ {
		script = append(script, toolCall("issue_refund", map[string]interface{}{"amount": 10.0, "currency": "USD"}))
	}

	f := newFixture(t, refundRegistry(t, failing), script)

	result, err := f.orch.HandleTurn(context.Background(), "t1", "refund my order please")
	require.NoError(t, err)
	require.Equal(t, TurnAnswered, result.Kind)
	assert.NotContains(t, result.Answer, "payment gateway unavailable", "raw error must not reach the user")
	assert.Contains(t, result.Answer, "escalated")

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusFailed, thread.Checkpoint.Status)
	assert.Equal(t, conversation.FailToolExhausted, thread.Checkpoint.FailReason)
	assert.True(t, f.auditor.has("run_failed"))
}

func TestAmbiguousMessageGetsClarifyingAnswer(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), nil)

	result, err := f.orch.HandleTurn(context.Background(), "t1", "I have a question about my thing")
	require.NoError(t, err)
	require.Equal(t, TurnAnswered, result.Kind)
	assert.Contains(t, result.Answer, "right team")

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, thread.Checkpoint, "direct answers never create a checkpoint")
}

func TestCancelAwaitingApprovalBlocksLateResume(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		toolCall("issue_refund", map[string]interface{}{"amount": float64(75000), "currency": "USD"}),
	})

	_, err := f.orch.HandleTurn(context.Background(), "t1", "refund my order")
	require.NoError(t, err)

	require.NoError(t, f.orch.Cancel(context.Background(), "t1"))

	thread, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusFailed, thread.Checkpoint.Status)
	assert.Equal(t, conversation.FailCancelled, thread.Checkpoint.FailReason)

	err = f.gate.Resume(context.Background(), "t1", hitl.ApprovalDecision{Approve: true})
	assert.ErrorIs(t, err, hitl.ErrNoPendingApproval)
	assert.True(t, f.auditor.has("task_cancelled"))
}

func TestCancelIdleThreadFails(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), nil)
	_, err := f.store.Ensure(context.Background(), "t1")
	require.NoError(t, err)

	err = f.orch.Cancel(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cancellable task")
}

func TestTurnsStayAppendOnlyAcrossOperations(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		toolCall("lookup_transactions", map[string]interface{}{"order_id": "7"}),
		answer("All good."),
	})

	_, err := f.orch.HandleTurn(context.Background(), "t1", "charged twice for order 7")
	require.NoError(t, err)

	before, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)

	_, err = f.orch.HandleTurn(context.Background(), "t1", "thanks, one more return question")
	require.NoError(t, err)

	after, err := f.store.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(after.Turns), len(before.Turns))
	for i := range before.Turns {
		assert.Equal(t, before.Turns[i].ID, after.Turns[i].ID, "prior turns must keep identity and order")
	}
}

func TestStickinessKeepsFollowUpWithSameAgent(t *testing.T) {
	f := newFixture(t, refundRegistry(t, nil), []reasoner.Decision{
		answer("Your invoice is attached."),
		answer("Yes, that invoice covers both items."),
	})

	_, err := f.orch.HandleTurn(context.Background(), "t1", "question about my invoice")
	require.NoError(t, err)

	result, err := f.orch.HandleTurn(context.Background(), "t1", "does it cover both items?")
	require.NoError(t, err)
	require.Equal(t, TurnAnswered, result.Kind)
	assert.Equal(t, "Yes, that invoice covers both items.", result.Answer)
}
