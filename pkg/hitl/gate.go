package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/tools"
)

// ErrNoPendingApproval is returned when a resume arrives for a thread
// with no matching suspended checkpoint. Covers stale reviewer links and
// duplicate decisions.
var ErrNoPendingApproval = errors.New("no pending approval for thread")

// ApprovalDecision is a reviewer's verdict on one pending tool call.
type ApprovalDecision struct {
	Approve      bool                   `json:"approve"`
	ModifiedArgs map[string]interface{} `json:"modified_args,omitempty"`
	Note         string                 `json:"note,omitempty"`
	Reviewer     string                 `json:"reviewer,omitempty"`
}

// Continuation re-enters the orchestrator loop after a decision has been
// applied and the checkpoint is back in running state.
type Continuation interface {
	ContinueRun(ctx context.Context, threadID string) error
}

// Notifier is told when approvals are requested or resolved. The
// reviewer UI's broadcast channel implements this.
type Notifier interface {
	ApprovalRequested(threadID string, pending conversation.PendingToolCall)
	ApprovalResolved(threadID string, callID string, approved bool)
}

// Metrics counts reviewer decisions.
type Metrics interface {
	ApprovalResolved(approved bool)
}

// Config assembles a Gate.
type Config struct {
	Store       conversation.Store
	Registry    *tools.Registry
	ToolTimeout time.Duration
	Notifier    Notifier // optional
	Metrics     Metrics  // optional
	Logger      zerolog.Logger
}

// Gate suspends and resumes runs around human approval.
type Gate struct {
	store        conversation.Store
	registry     *tools.Registry
	toolTimeout  time.Duration
	notifier     Notifier
	metrics      Metrics
	continuation Continuation
	logger       zerolog.Logger
}

// New creates a Gate. The continuation is wired separately because the
// orchestrator and the gate reference each other.
func New(cfg Config) (*Gate, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry cannot be nil")
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}
	return &Gate{
		store:       cfg.Store,
		registry:    cfg.Registry,
		toolTimeout: toolTimeout,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

// SetContinuation wires the orchestrator's resume path.
func (g *Gate) SetContinuation(c Continuation) {
	g.continuation = c
}

// Suspend persists the awaiting-approval checkpoint, guarded by the
// status the caller last observed, and notifies reviewers.
func (g *Gate) Suspend(ctx context.Context, threadID string, expected conversation.CheckpointStatus, cp *conversation.Checkpoint) error {
	if cp == nil || cp.Status != conversation.StatusAwaitingApproval || cp.Pending == nil {
		return fmt.Errorf("suspend requires an awaiting_approval checkpoint with a pending call")
	}

	if err := g.store.CompareAndSwapCheckpoint(ctx, threadID, expected, cp); err != nil {
		return err
	}

	g.logger.Info().
		Str("thread_id", threadID).
		Str("tool", cp.Pending.Tool).
		Str("call_id", cp.Pending.ID).
		Str("reason", cp.Pending.Reason).
		Msg("Run suspended awaiting approval")

	if g.notifier != nil {
		g.notifier.ApprovalRequested(threadID, *cp.Pending)
	}
	return nil
}

// Resume applies a reviewer decision to the thread's suspended
// checkpoint and continues the specialist loop. Fails with
// ErrNoPendingApproval unless the current checkpoint status is exactly
// awaiting_approval, so duplicate decisions never re-apply an effect.
func (g *Gate) Resume(ctx context.Context, threadID string, decision ApprovalDecision) error {
	thread, err := g.store.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, conversation.ErrThreadNotFound) {
			g.auditRejected(threadID, "thread not found")
			return ErrNoPendingApproval
		}
		return err
	}

	cp := thread.Checkpoint
	if cp == nil || cp.Status != conversation.StatusAwaitingApproval || cp.Pending == nil {
		g.auditRejected(threadID, "checkpoint not awaiting approval")
		return ErrNoPendingApproval
	}
	pending := *cp.Pending

	observation := g.applyDecision(ctx, pending, decision)

	next := &conversation.Checkpoint{
		Agent:   cp.Agent,
		Task:    cp.Task,
		Step:    cp.Step,
		Scratch: append(append([]conversation.ScratchEntry{}, cp.Scratch...), observation),
		Status:  conversation.StatusRunning,
	}
	if err := g.store.CompareAndSwapCheckpoint(ctx, threadID, conversation.StatusAwaitingApproval, next); err != nil {
		if errors.Is(err, conversation.ErrConcurrentModification) {
			g.auditRejected(threadID, "lost resume race")
			return ErrNoPendingApproval
		}
		return err
	}

	verdict := "denied"
	if decision.Approve {
		verdict = "approved"
	}
	if err := g.store.AppendTurn(ctx, threadID, conversation.Turn{
		Role:    conversation.RoleTool,
		Agent:   cp.Agent,
		Content: fmt.Sprintf("reviewer %s %s: %s", verdict, pending.Tool, observation.Content),
	}); err != nil {
		g.logger.Error().Str("thread_id", threadID).Err(err).Msg("Failed to record approval turn")
	}

	g.logger.Info().
		Str("thread_id", threadID).
		Str("call_id", pending.ID).
		Str("reviewer", decision.Reviewer).
		Bool("approved", decision.Approve).
		Msg("Approval decision applied")

	if g.notifier != nil {
		g.notifier.ApprovalResolved(threadID, pending.ID, decision.Approve)
	}
	if g.metrics != nil {
		g.metrics.ApprovalResolved(decision.Approve)
	}

	if g.continuation == nil {
		return fmt.Errorf("no continuation wired for resume")
	}
	return g.continuation.ContinueRun(ctx, threadID)
}

// applyDecision turns the verdict into the observation the agent's next
// deciding step will see. Approve executes the pending call here; the
// specialist engine never re-checks an approved call.
func (g *Gate) applyDecision(ctx context.Context, pending conversation.PendingToolCall, decision ApprovalDecision) conversation.ScratchEntry {
	if !decision.Approve {
		note := decision.Note
		if note == "" {
			note = "no reason given"
		}
		return conversation.ScratchEntry{
			Kind:    conversation.ScratchToolResult,
			Tool:    pending.Tool,
			Content: fmt.Sprintf("tool call denied: %s", note),
		}
	}

	args := pending.Args
	if decision.ModifiedArgs != nil {
		args = decision.ModifiedArgs
	}

	result := g.registry.Invoke(ctx, pending.Tool, args, g.toolTimeout)
	if !result.Success {
		return conversation.ScratchEntry{
			Kind:    conversation.ScratchToolError,
			Tool:    pending.Tool,
			Content: result.Error,
		}
	}
	return conversation.ScratchEntry{
		Kind:    conversation.ScratchToolResult,
		Tool:    pending.Tool,
		Content: renderOutput(result.Output),
	}
}

// ExpireStale denies approvals that have waited longer than ttl. Run
// periodically by the daemon's scheduler.
func (g *Gate) ExpireStale(ctx context.Context, ttl time.Duration) error {
	ids, err := g.store.ListByStatus(ctx, conversation.StatusAwaitingApproval)
	if err != nil {
		return fmt.Errorf("failed to list suspended threads: %w", err)
	}

	for _, id := range ids {
		thread, err := g.store.Load(ctx, id)
		if err != nil {
			g.logger.Warn().Str("thread_id", id).Err(err).Msg("Failed to load suspended thread")
			continue
		}
		cp := thread.Checkpoint
		if cp == nil || cp.Status != conversation.StatusAwaitingApproval {
			continue
		}
		if time.Since(cp.UpdatedAt) < ttl {
			continue
		}

		g.logger.Warn().
			Str("thread_id", id).
			Str("call_id", cp.Pending.ID).
			Dur("age", time.Since(cp.UpdatedAt)).
			Msg("Approval request expired, denying")

		err = g.Resume(ctx, id, ApprovalDecision{
			Approve:  false,
			Note:     "approval request expired before a reviewer acted",
			Reviewer: "system",
		})
		if err != nil && !errors.Is(err, ErrNoPendingApproval) {
			g.logger.Error().Str("thread_id", id).Err(err).Msg("Failed to expire approval")
		}
	}
	return nil
}

func (g *Gate) auditRejected(threadID, reason string) {
	g.logger.Warn().
		Str("thread_id", threadID).
		Str("reason", reason).
		Msg("Resume rejected with no pending approval")
}

func renderOutput(output interface{}) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
