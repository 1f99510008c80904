package conversation

import (
	"fmt"
	"time"
)

// Turn roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
	RoleTool   = "tool"
)

// CheckpointStatus describes the lifecycle of an in-flight specialist run.
type CheckpointStatus string

const (
	// StatusNone means the thread is idle with no run recorded yet.
	StatusNone CheckpointStatus = "none"
	// StatusRunning means a specialist run is in progress.
	StatusRunning CheckpointStatus = "running"
	// StatusAwaitingApproval means the run is suspended on a gated tool call.
	StatusAwaitingApproval CheckpointStatus = "awaiting_approval"
	// StatusCompleted means the last run finished with an answer.
	StatusCompleted CheckpointStatus = "completed"
	// StatusFailed means the last run terminated without an answer.
	StatusFailed CheckpointStatus = "failed"
)

// Terminal reports whether a new run may start over this status.
func (s CheckpointStatus) Terminal() bool {
	switch s {
	case StatusNone, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Failure reasons recorded on StatusFailed checkpoints.
const (
	FailLoopExhausted = "loop_exhausted"
	FailToolExhausted = "tool_exhausted"
	FailCancelled     = "cancelled"
)

// Turn is one exchange unit within a thread.
type Turn struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Agent     string                 `json:"agent,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PendingToolCall is a gated tool invocation waiting on a reviewer.
type PendingToolCall struct {
	ID     string                 `json:"id"`
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args"`
	Reason string                 `json:"reason,omitempty"`
}

// Scratch entry kinds.
const (
	ScratchThought    = "thought"
	ScratchToolResult = "tool_result"
	ScratchToolError  = "tool_error"
	ScratchSummary    = "summary"
)

// ScratchEntry is one accumulated observation of the current run.
type ScratchEntry struct {
	Kind    string `json:"kind"`
	Tool    string `json:"tool,omitempty"`
	Content string `json:"content"`
}

// Checkpoint is a resumable snapshot of an in-progress specialist run.
type Checkpoint struct {
	Agent      string           `json:"agent"`
	Task       string           `json:"task"`
	Step       int              `json:"step"`
	Scratch    []ScratchEntry   `json:"scratch,omitempty"`
	Pending    *PendingToolCall `json:"pending,omitempty"`
	Status     CheckpointStatus `json:"status"`
	FailReason string           `json:"fail_reason,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Validate enforces the pending-call/status invariant.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Status {
	case StatusRunning, StatusAwaitingApproval, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("invalid checkpoint status %q", c.Status)
	}
	if c.Status == StatusAwaitingApproval && c.Pending == nil {
		return fmt.Errorf("checkpoint awaiting approval without a pending tool call")
	}
	if c.Status != StatusAwaitingApproval && c.Pending != nil {
		return fmt.Errorf("checkpoint has a pending tool call but status is %q", c.Status)
	}
	if c.Status == StatusFailed && c.FailReason == "" {
		return fmt.Errorf("failed checkpoint without a reason")
	}
	return nil
}

// Thread is one customer conversation's durable state.
type Thread struct {
	ID         string      `json:"id"`
	Turns      []Turn      `json:"turns"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Status returns the checkpoint status, or StatusNone for idle threads.
func (t *Thread) Status() CheckpointStatus {
	if t.Checkpoint == nil {
		return StatusNone
	}
	return t.Checkpoint.Status
}

// LastAgent returns the agent that produced the most recent agent turn,
// or empty if no specialist has handled this thread yet.
func (t *Thread) LastAgent() string {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].Role == RoleAgent && t.Turns[i].Agent != "" {
			return t.Turns[i].Agent
		}
	}
	return ""
}
