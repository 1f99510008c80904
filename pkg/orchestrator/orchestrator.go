package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/hitl"
	"github.com/harun/deskd/pkg/reasoner"
	"github.com/harun/deskd/pkg/specialist"
	"github.com/harun/deskd/pkg/supervisor"
)

// TurnKind discriminates how a turn concluded.
type TurnKind string

const (
	TurnAnswered        TurnKind = "answered"
	TurnPendingApproval TurnKind = "pending_approval"
)

// TurnResult is what the inbound channel renders back to the customer.
type TurnResult struct {
	Kind    TurnKind
	Answer  string // set for TurnAnswered
	Summary string // set for TurnPendingApproval
}

const escalationAnswer = "I'm sorry, I wasn't able to resolve this automatically. I've escalated your request to a human agent who will follow up with you shortly."

const awaitingApprovalAnswer = "Your previous request is still waiting on a pending approval. I'll get back to you as soon as it's reviewed."

// Auditor records internal-only events: failure reasons, tool traces,
// cancellations. Never user-visible.
type Auditor interface {
	Record(event string, fields map[string]interface{})
}

// Metrics counts orchestration outcomes.
type Metrics interface {
	TurnHandled(agent string, kind string)
	ApprovalRequested(tool string)
	RunFailed(agent string, reason string)
	CyclesObserved(agent string, steps int)
}

// Config assembles an Orchestrator.
type Config struct {
	Store      conversation.Store
	Supervisor *supervisor.Supervisor
	Agents     []*specialist.Engine
	Gate       *hitl.Gate
	Auditor    Auditor // optional
	Metrics    Metrics // optional
	Logger     zerolog.Logger
}

// Orchestrator drives one resumable execution per user turn.
type Orchestrator struct {
	store      conversation.Store
	supervisor *supervisor.Supervisor
	agents     map[string]*specialist.Engine
	gate       *hitl.Gate
	auditor    Auditor
	metrics    Metrics
	logger     zerolog.Logger
}

// New creates an Orchestrator and wires itself as the gate's
// continuation.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("supervisor cannot be nil")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("at least one specialist is required")
	}

	agents := make(map[string]*specialist.Engine, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		if _, dup := agents[agent.Name()]; dup {
			return nil, fmt.Errorf("duplicate specialist %q", agent.Name())
		}
		agents[agent.Name()] = agent
	}

	o := &Orchestrator{
		store:      cfg.Store,
		supervisor: cfg.Supervisor,
		agents:     agents,
		gate:       cfg.Gate,
		auditor:    cfg.Auditor,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	cfg.Gate.SetContinuation(o)
	return o, nil
}

// HandleTurn processes one user message to an answered or suspended
// state. ErrConcurrentModification means another turn won the race for
// this thread; the caller retries against reloaded state.
func (o *Orchestrator) HandleTurn(ctx context.Context, threadID, message string) (TurnResult, error) {
	if message == "" {
		return TurnResult{}, fmt.Errorf("message cannot be empty")
	}

	thread, err := o.store.Ensure(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}

	if err := o.store.AppendTurn(ctx, threadID, conversation.Turn{
		Role:    conversation.RoleUser,
		Content: message,
	}); err != nil {
		return TurnResult{}, err
	}

	// Single in-flight task per thread: a suspended run blocks new work.
	if thread.Status() == conversation.StatusAwaitingApproval {
		o.logger.Info().Str("thread_id", threadID).Msg("Turn rejected, thread awaiting approval")
		if err := o.appendAgentTurn(ctx, threadID, thread.Checkpoint.Agent, awaitingApprovalAnswer); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{Kind: TurnPendingApproval, Summary: awaitingApprovalAnswer}, nil
	}

	route := o.supervisor.Route(ctx, thread, message)
	if route.Kind == supervisor.RouteDirect {
		if err := o.appendAgentTurn(ctx, threadID, "", route.Answer); err != nil {
			return TurnResult{}, err
		}
		o.countTurn("supervisor", TurnAnswered)
		return TurnResult{Kind: TurnAnswered, Answer: route.Answer}, nil
	}

	engine, ok := o.agents[route.Agent]
	if !ok {
		return TurnResult{}, fmt.Errorf("no specialist registered for %q", route.Agent)
	}

	// A running checkpoint means another turn holds this thread right
	// now. Reject before claiming so the loser never enters its engine;
	// crash recovery resumes interrupted runs through ContinueRun, not
	// here.
	if !thread.Status().Terminal() {
		o.logger.Info().Str("thread_id", threadID).Msg("Turn rejected, thread already has a task in flight")
		return TurnResult{}, fmt.Errorf("thread %s already has a task in flight: %w", threadID, conversation.ErrConcurrentModification)
	}

	// Claim the thread before running. The expected status is whatever
	// this turn observed at load; a concurrent writer makes the CAS fail.
	initial := &conversation.Checkpoint{
		Agent:  route.Agent,
		Task:   message,
		Status: conversation.StatusRunning,
	}
	if err := o.store.CompareAndSwapCheckpoint(ctx, threadID, thread.Status(), initial); err != nil {
		return TurnResult{}, err
	}

	outcome := engine.Run(ctx, route.Task, nil)
	return o.finish(ctx, threadID, route.Agent, route.Task.Instruction, outcome)
}

// ContinueRun resumes a thread whose checkpoint the approval gate has
// just moved back to running. Implements hitl.Continuation.
func (o *Orchestrator) ContinueRun(ctx context.Context, threadID string) error {
	thread, err := o.store.Load(ctx, threadID)
	if err != nil {
		return err
	}

	cp := thread.Checkpoint
	if cp == nil || cp.Status != conversation.StatusRunning {
		return fmt.Errorf("thread %s has no running checkpoint to continue", threadID)
	}

	engine, ok := o.agents[cp.Agent]
	if !ok {
		return fmt.Errorf("no specialist registered for %q", cp.Agent)
	}

	task := reasoner.Task{Agent: cp.Agent, Instruction: cp.Task}
	outcome := engine.Run(ctx, task, cp)
	_, err = o.finish(ctx, threadID, cp.Agent, cp.Task, outcome)
	return err
}

// Cancel aborts a thread's in-flight task. Permitted only while the
// checkpoint is running or awaiting approval; a later approval decision
// for a cancelled thread fails with NoPendingApproval.
func (o *Orchestrator) Cancel(ctx context.Context, threadID string) error {
	thread, err := o.store.Load(ctx, threadID)
	if err != nil {
		return err
	}

	status := thread.Status()
	if status != conversation.StatusRunning && status != conversation.StatusAwaitingApproval {
		return fmt.Errorf("thread %s has no cancellable task (status %s)", threadID, status)
	}

	cp := thread.Checkpoint
	next := &conversation.Checkpoint{
		Agent:      cp.Agent,
		Task:       cp.Task,
		Step:       cp.Step,
		Scratch:    cp.Scratch,
		Status:     conversation.StatusFailed,
		FailReason: conversation.FailCancelled,
	}
	if err := o.store.CompareAndSwapCheckpoint(ctx, threadID, status, next); err != nil {
		return err
	}

	o.audit("task_cancelled", map[string]interface{}{
		"thread_id": threadID,
		"agent":     cp.Agent,
		"step":      cp.Step,
	})
	o.logger.Info().Str("thread_id", threadID).Str("agent", cp.Agent).Msg("Task cancelled")

	return o.store.AppendTurn(ctx, threadID, conversation.Turn{
		Role:    conversation.RoleSystem,
		Content: "task cancelled by operator",
	})
}

// finish persists a run outcome: turns, checkpoint, audit trail.
func (o *Orchestrator) finish(ctx context.Context, threadID, agent, task string, outcome specialist.Outcome) (TurnResult, error) {
	if o.metrics != nil {
		o.metrics.CyclesObserved(agent, outcome.Steps)
	}
	o.appendTraceTurns(ctx, threadID, agent, outcome.Trace)

	switch outcome.Kind {
	case specialist.OutcomeAnswered:
		next := &conversation.Checkpoint{
			Agent:   agent,
			Task:    task,
			Step:    outcome.Steps,
			Scratch: outcome.Scratch,
			Status:  conversation.StatusCompleted,
		}
		if err := o.store.CompareAndSwapCheckpoint(ctx, threadID, conversation.StatusRunning, next); err != nil {
			return TurnResult{}, err
		}
		if err := o.appendAgentTurn(ctx, threadID, agent, outcome.Answer); err != nil {
			return TurnResult{}, err
		}
		o.countTurn(agent, TurnAnswered)
		return TurnResult{Kind: TurnAnswered, Answer: outcome.Answer}, nil

	case specialist.OutcomeSuspended:
		cp := &conversation.Checkpoint{
			Agent:   agent,
			Task:    task,
			Step:    outcome.Steps,
			Scratch: outcome.Scratch,
			Pending: outcome.Pending,
			Status:  conversation.StatusAwaitingApproval,
		}
		if err := o.gate.Suspend(ctx, threadID, conversation.StatusRunning, cp); err != nil {
			return TurnResult{}, err
		}

		summary := fmt.Sprintf("This request needs a quick review before I can proceed (%s). I'll follow up once it's approved.", outcome.Pending.Reason)
		if err := o.appendAgentTurn(ctx, threadID, agent, summary); err != nil {
			return TurnResult{}, err
		}
		if o.metrics != nil {
			o.metrics.ApprovalRequested(outcome.Pending.Tool)
		}
		o.countTurn(agent, TurnPendingApproval)
		return TurnResult{Kind: TurnPendingApproval, Summary: summary}, nil

	case specialist.OutcomeFailed:
		next := &conversation.Checkpoint{
			Agent:      agent,
			Task:       task,
			Step:       outcome.Steps,
			Scratch:    outcome.Scratch,
			Status:     conversation.StatusFailed,
			FailReason: outcome.FailReason,
		}
		if err := o.store.CompareAndSwapCheckpoint(ctx, threadID, conversation.StatusRunning, next); err != nil {
			return TurnResult{}, err
		}

		// The raw reason stays internal.
		o.audit("run_failed", map[string]interface{}{
			"thread_id": threadID,
			"agent":     agent,
			"reason":    outcome.FailReason,
			"steps":     outcome.Steps,
			"trace":     outcome.Trace,
		})
		if o.metrics != nil {
			o.metrics.RunFailed(agent, outcome.FailReason)
		}
		o.logger.Error().
			Str("thread_id", threadID).
			Str("agent", agent).
			Str("reason", outcome.FailReason).
			Int("steps", outcome.Steps).
			Msg("Run failed, escalating to a human")

		if err := o.appendAgentTurn(ctx, threadID, agent, escalationAnswer); err != nil {
			return TurnResult{}, err
		}
		o.countTurn(agent, TurnAnswered)
		return TurnResult{Kind: TurnAnswered, Answer: escalationAnswer}, nil
	}

	return TurnResult{}, fmt.Errorf("unknown outcome kind %q", outcome.Kind)
}

func (o *Orchestrator) appendTraceTurns(ctx context.Context, threadID, agent string, trace []specialist.ToolTrace) {
	for _, entry := range trace {
		content := fmt.Sprintf("%s(%v)", entry.Tool, entry.Args)
		if entry.Success {
			content = fmt.Sprintf("%s -> ok", content)
		} else {
			content = fmt.Sprintf("%s -> error: %s", content, entry.Error)
		}
		err := o.store.AppendTurn(ctx, threadID, conversation.Turn{
			Role:    conversation.RoleTool,
			Agent:   agent,
			Content: content,
			Metadata: map[string]interface{}{
				"tool":    entry.Tool,
				"success": entry.Success,
			},
		})
		if err != nil {
			o.logger.Error().Str("thread_id", threadID).Err(err).Msg("Failed to append tool turn")
		}
	}
}

func (o *Orchestrator) appendAgentTurn(ctx context.Context, threadID, agent, content string) error {
	return o.store.AppendTurn(ctx, threadID, conversation.Turn{
		Role:    conversation.RoleAgent,
		Agent:   agent,
		Content: content,
	})
}

func (o *Orchestrator) countTurn(agent string, kind TurnKind) {
	if o.metrics != nil {
		o.metrics.TurnHandled(agent, string(kind))
	}
}

func (o *Orchestrator) audit(event string, fields map[string]interface{}) {
	if o.auditor != nil {
		o.auditor.Record(event, fields)
	}
}

// IsBusy reports whether err is the concurrency conflict callers retry.
func IsBusy(err error) bool {
	return errors.Is(err, conversation.ErrConcurrentModification)
}
