package reasoner

import (
	"context"

	"github.com/harun/deskd/pkg/conversation"
)

// Task is the unit of work a specialist receives from the supervisor.
type Task struct {
	Agent       string `json:"agent"`
	Instruction string `json:"instruction"`
	Context     string `json:"context,omitempty"` // retrieved policy passages
}

// DecisionKind discriminates the two possible next steps.
type DecisionKind string

const (
	DecideAnswer   DecisionKind = "answer"
	DecideToolCall DecisionKind = "tool_call"
)

// ToolRequest names a tool and its arguments.
type ToolRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Decision is the outcome of one deciding step: a final answer or
// exactly one tool call.
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	Answer   string       `json:"answer,omitempty"`
	ToolCall *ToolRequest `json:"tool_call,omitempty"`
}

// Proposer produces the next step given the task and the scratch state
// accumulated so far.
type Proposer interface {
	ProposeNextStep(ctx context.Context, task Task, scratch []conversation.ScratchEntry) (Decision, error)
}

// ProposerFunc adapts a function to the Proposer interface.
type ProposerFunc func(ctx context.Context, task Task, scratch []conversation.ScratchEntry) (Decision, error)

func (f ProposerFunc) ProposeNextStep(ctx context.Context, task Task, scratch []conversation.ScratchEntry) (Decision, error) {
	return f(ctx, task, scratch)
}
