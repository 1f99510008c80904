package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/knowledge"
	"github.com/harun/deskd/pkg/reasoner"
	"github.com/harun/deskd/pkg/tools"
)

const (
	// DefaultMaxCycles bounds decide/act/observe iterations per task.
	DefaultMaxCycles = 8

	// DefaultStepTimeout applies to each deciding step.
	DefaultStepTimeout = 60 * time.Second

	// DefaultToolTimeout applies to each tool invocation.
	DefaultToolTimeout = 30 * time.Second

	// defaultFailureLimit is how many consecutive tool failures mark a
	// cap-exhausted run as tool_exhausted instead of loop_exhausted.
	defaultFailureLimit = 3

	retrievalK = 3

	// scratchBudget is the entry count above which older scratch
	// observations get folded into a single summary entry.
	scratchBudget = 24

	// scratchKeepRecent entries stay verbatim through compaction so the
	// trailing failure streak is still countable.
	scratchKeepRecent = 8

	scratchClipLen = 120
)

// OutcomeKind discriminates how a run ended.
type OutcomeKind string

const (
	OutcomeAnswered  OutcomeKind = "answered"
	OutcomeSuspended OutcomeKind = "suspended"
	OutcomeFailed    OutcomeKind = "failed"
)

// ToolTrace records one tool call attempt for the audit log.
type ToolTrace struct {
	Tool    string                 `json:"tool"`
	Args    map[string]interface{} `json:"args"`
	Success bool                   `json:"success"`
	Output  interface{}            `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Outcome is the result of running a task to a terminal or suspension
// state.
type Outcome struct {
	Kind       OutcomeKind
	Answer     string
	Pending    *conversation.PendingToolCall
	FailReason string
	Steps      int
	Scratch    []conversation.ScratchEntry
	Trace      []ToolTrace
}

// Config assembles an Engine.
type Config struct {
	Name         string
	Proposer     reasoner.Proposer
	Registry     *tools.Registry
	Retriever    knowledge.Retriever
	Thresholds   tools.Thresholds
	MaxCycles    int
	StepTimeout  time.Duration
	ToolTimeout  time.Duration
	FailureLimit int
	Logger       zerolog.Logger
}

// Engine executes the decide/act/observe loop for one specialist domain.
// Safe for concurrent use across threads; all per-run state lives on the
// stack and in the checkpoint.
type Engine struct {
	name         string
	proposer     reasoner.Proposer
	registry     *tools.Registry
	retriever    knowledge.Retriever
	thresholds   tools.Thresholds
	maxCycles    int
	stepTimeout  time.Duration
	toolTimeout  time.Duration
	failureLimit int
	logger       zerolog.Logger
}

// New creates a specialist engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("specialist name cannot be empty")
	}
	if cfg.Proposer == nil {
		return nil, fmt.Errorf("proposer cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry cannot be nil")
	}

	maxCycles := cfg.MaxCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}
	failureLimit := cfg.FailureLimit
	if failureLimit <= 0 {
		failureLimit = defaultFailureLimit
	}

	return &Engine{
		name:         cfg.Name,
		proposer:     cfg.Proposer,
		registry:     cfg.Registry,
		retriever:    cfg.Retriever,
		thresholds:   cfg.Thresholds,
		maxCycles:    maxCycles,
		stepTimeout:  stepTimeout,
		toolTimeout:  toolTimeout,
		failureLimit: failureLimit,
		logger:       cfg.Logger.With().Str("specialist", cfg.Name).Logger(),
	}, nil
}

// Name returns the specialist's domain name.
func (e *Engine) Name() string {
	return e.name
}

// Run drives the task to a terminal or suspension state. A non-nil
// checkpoint resumes a prior run: its scratch state and step counter
// carry over, so the cycle cap spans suspensions.
func (e *Engine) Run(ctx context.Context, task reasoner.Task, resume *conversation.Checkpoint) Outcome {
	var scratch []conversation.ScratchEntry
	step := 0
	if resume != nil {
		scratch = append(scratch, resume.Scratch...)
		step = resume.Step
	}
	trace := []ToolTrace{}
	consecutiveFailures := trailingFailures(scratch)

	if task.Context == "" && e.retriever != nil {
		task.Context = e.retrieveContext(ctx, task.Instruction)
	}

	for {
		if ctx.Err() != nil {
			e.logger.Warn().Int("step", step).Msg("Run cancelled")
			return Outcome{Kind: OutcomeFailed, FailReason: conversation.FailCancelled, Steps: step, Scratch: scratch, Trace: trace}
		}

		if step >= e.maxCycles {
			reason := conversation.FailLoopExhausted
			if consecutiveFailures >= e.failureLimit {
				reason = conversation.FailToolExhausted
			}
			e.logger.Warn().Int("step", step).Str("reason", reason).Msg("Cycle cap exhausted")
			return Outcome{Kind: OutcomeFailed, FailReason: reason, Steps: step, Scratch: scratch, Trace: trace}
		}
		step++

		if len(scratch) > scratchBudget {
			e.logger.Debug().Int("entries", len(scratch)).Msg("Compacting scratch state")
			scratch = compactScratch(scratch)
		}

		// Deciding
		decideCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		decision, err := e.proposer.ProposeNextStep(decideCtx, task, scratch)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Kind: OutcomeFailed, FailReason: conversation.FailCancelled, Steps: step, Scratch: scratch, Trace: trace}
			}
			e.logger.Warn().Int("step", step).Err(err).Msg("Deciding step failed")
			scratch = append(scratch, conversation.ScratchEntry{
				Kind:    conversation.ScratchToolError,
				Content: fmt.Sprintf("reasoning step failed: %s", err),
			})
			consecutiveFailures++
			continue
		}

		if decision.Kind == reasoner.DecideAnswer {
			e.logger.Info().Int("step", step).Msg("Task answered")
			return Outcome{Kind: OutcomeAnswered, Answer: decision.Answer, Steps: step, Scratch: scratch, Trace: trace}
		}

		// Acting
		call := decision.ToolCall
		if call == nil {
			scratch = append(scratch, conversation.ScratchEntry{
				Kind:    conversation.ScratchToolError,
				Content: "decision named a tool call but carried none",
			})
			consecutiveFailures++
			continue
		}

		def := e.registry.Get(call.Name)
		if def == nil {
			scratch = append(scratch, conversation.ScratchEntry{
				Kind:    conversation.ScratchToolError,
				Tool:    call.Name,
				Content: fmt.Sprintf("unknown tool %q", call.Name),
			})
			consecutiveFailures++
			continue
		}

		if err := e.registry.ValidateArgs(call.Name, call.Args); err != nil {
			e.logger.Warn().Int("step", step).Str("tool", call.Name).Err(err).Msg("Tool arguments rejected")
			scratch = append(scratch, conversation.ScratchEntry{
				Kind:    conversation.ScratchToolError,
				Tool:    call.Name,
				Content: err.Error(),
			})
			trace = append(trace, ToolTrace{Tool: call.Name, Args: call.Args, Error: err.Error()})
			consecutiveFailures++
			continue
		}

		if gated, reason := def.Approval.RequiresApproval(call.Args, e.thresholds); gated {
			pending := &conversation.PendingToolCall{
				ID:     gonanoid.Must(12),
				Tool:   call.Name,
				Args:   call.Args,
				Reason: reason,
			}
			e.logger.Info().
				Int("step", step).
				Str("tool", call.Name).
				Str("call_id", pending.ID).
				Str("reason", reason).
				Msg("Tool call gated, suspending for approval")
			return Outcome{Kind: OutcomeSuspended, Pending: pending, Steps: step, Scratch: scratch, Trace: trace}
		}

		result := e.registry.Invoke(ctx, call.Name, call.Args, e.toolTimeout)

		// Observing
		if result.Success {
			scratch = append(scratch, conversation.ScratchEntry{
				Kind:    conversation.ScratchToolResult,
				Tool:    call.Name,
				Content: renderOutput(result.Output),
			})
			trace = append(trace, ToolTrace{Tool: call.Name, Args: call.Args, Success: true, Output: result.Output})
			consecutiveFailures = 0
		} else {
			scratch = append(scratch, conversation.ScratchEntry{
				Kind:    conversation.ScratchToolError,
				Tool:    call.Name,
				Content: result.Error,
			})
			trace = append(trace, ToolTrace{Tool: call.Name, Args: call.Args, Error: result.Error})
			consecutiveFailures++
		}
	}
}

func (e *Engine) retrieveContext(ctx context.Context, query string) string {
	passages, err := e.retriever.Search(ctx, query, retrievalK)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Context retrieval failed")
		return ""
	}
	if len(passages) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Content)
	}
	return sb.String()
}

// compactScratch folds all but the most recent entries into a single
// summary entry. An existing leading summary is merged rather than
// stacked, so repeated compaction keeps exactly one summary at the head.
func compactScratch(scratch []conversation.ScratchEntry) []conversation.ScratchEntry {
	if len(scratch) <= scratchKeepRecent {
		return scratch
	}
	cut := len(scratch) - scratchKeepRecent

	parts := make([]string, 0, cut)
	for _, entry := range scratch[:cut] {
		switch entry.Kind {
		case conversation.ScratchSummary:
			parts = append(parts, entry.Content)
		case conversation.ScratchToolResult:
			parts = append(parts, fmt.Sprintf("%s ok: %s", entry.Tool, clip(entry.Content, scratchClipLen)))
		case conversation.ScratchToolError:
			tool := entry.Tool
			if tool == "" {
				tool = "step"
			}
			parts = append(parts, fmt.Sprintf("%s failed: %s", tool, clip(entry.Content, scratchClipLen)))
		default:
			parts = append(parts, clip(entry.Content, scratchClipLen))
		}
	}

	compacted := make([]conversation.ScratchEntry, 0, scratchKeepRecent+1)
	compacted = append(compacted, conversation.ScratchEntry{
		Kind:    conversation.ScratchSummary,
		Content: strings.Join(parts, "; "),
	})
	return append(compacted, scratch[cut:]...)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// trailingFailures counts consecutive tool_error entries at the tail of
// the scratch state, so failure streaks survive a suspension.
func trailingFailures(scratch []conversation.ScratchEntry) int {
	count := 0
	for i := len(scratch) - 1; i >= 0; i-- {
		if scratch[i].Kind != conversation.ScratchToolError {
			break
		}
		count++
	}
	return count
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
