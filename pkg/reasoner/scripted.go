package reasoner

import (
	"context"
	"sync"

	"github.com/harun/deskd/pkg/conversation"
)

// ScriptedProposer replays a fixed sequence of decisions. Once the
// script runs out it keeps returning the fallback answer. Used in tests
// and in dry-run mode.
type ScriptedProposer struct {
	mu       sync.Mutex
	script   []Decision
	fallback string
}

// NewScriptedProposer creates a proposer that replays script in order.
func NewScriptedProposer(script []Decision, fallback string) *ScriptedProposer {
	if fallback == "" {
		fallback = "I don't have anything further on this request."
	}
	return &ScriptedProposer{script: script, fallback: fallback}
}

func (p *ScriptedProposer) ProposeNextStep(_ context.Context, _ Task, _ []conversation.ScratchEntry) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.script) == 0 {
		return Decision{Kind: DecideAnswer, Answer: p.fallback}, nil
	}
	next := p.script[0]
	p.script = p.script[1:]
	return next, nil
}

// Remaining reports how many scripted decisions are left unplayed.
func (p *ScriptedProposer) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.script)
}
