package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/reasoner"
)

// Specialist agent names.
const (
	AgentBilling      = "billing"
	AgentReturns      = "returns"
	AgentTroubleshoot = "troubleshoot"
)

// RouteKind discriminates routing outcomes.
type RouteKind string

const (
	RouteDirect   RouteKind = "direct_answer"
	RouteDispatch RouteKind = "dispatch"
)

// RouteResult is the supervisor's verdict for one message.
type RouteResult struct {
	Kind   RouteKind
	Answer string        // set for RouteDirect
	Agent  string        // set for RouteDispatch
	Task   reasoner.Task // set for RouteDispatch
}

// Classification is a classifier's opinion of one message.
type Classification struct {
	Agent      string  // one of the agent names, or "" for small talk
	Confidence float64 // 0..1
	SmallTalk  bool
	Answer     string // direct reply when SmallTalk
}

// Classifier produces a learned intent classification. Keyword overrides
// always take precedence over its output.
type Classifier interface {
	Classify(ctx context.Context, message string) (Classification, error)
}

// keyword tables, checked in order. Overrides win over any classifier
// output; "chargeback" and "dispute" route to billing unconditionally.
var keywordRules = []struct {
	agent    string
	keywords []string
}{
	{AgentBilling, []string{"chargeback", "dispute", "charged twice", "double charge", "overcharged", "invoice", "billing", "subscription", "payment failed"}},
	{AgentReturns, []string{"return", "rma", "exchange", "send it back", "wrong item"}},
	{AgentTroubleshoot, []string{"warranty", "broken", "not working", "doesn't work", "won't turn on", "troubleshoot", "defective", "repair", "error code"}},
	{AgentBilling, []string{"refund", "charge", "bill"}},
}

var monetaryTerms = []string{"$", "€", "£", "usd", "eur", "gbp", "refund", "charge", "payment", "price", "cost", "paid", "money", "invoice", "bill"}

// Config assembles a Supervisor.
type Config struct {
	Classifier        Classifier // optional
	ClassifierTimeout time.Duration
	MinConfidence     float64
	Logger            zerolog.Logger
}

// Supervisor routes messages. Stateless beyond its configuration; safe
// for concurrent use.
type Supervisor struct {
	classifier        Classifier
	classifierTimeout time.Duration
	minConfidence     float64
	logger            zerolog.Logger
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	timeout := cfg.ClassifierTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.6
	}
	return &Supervisor{
		classifier:        cfg.Classifier,
		classifierTimeout: timeout,
		minConfidence:     minConfidence,
		logger:            cfg.Logger,
	}
}

// Route classifies the message and picks a specialist or answers
// directly. Reads thread history for stickiness, mutates nothing.
func (s *Supervisor) Route(ctx context.Context, thread *conversation.Thread, message string) RouteResult {
	if agent := MatchKeywords(message); agent != "" {
		s.logger.Debug().Str("agent", agent).Msg("Keyword override matched")
		return s.dispatch(agent, message)
	}

	if s.classifier != nil {
		classifyCtx, cancel := context.WithTimeout(ctx, s.classifierTimeout)
		classification, err := s.classifier.Classify(classifyCtx, message)
		cancel()

		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("Classifier failed, falling back to tie-break rules")
		case classification.SmallTalk:
			answer := classification.Answer
			if answer == "" {
				answer = "Happy to help! What can I do for you today?"
			}
			return RouteResult{Kind: RouteDirect, Answer: answer}
		case knownAgent(classification.Agent) && classification.Confidence >= s.minConfidence:
			return s.dispatch(classification.Agent, message)
		}
	}

	// Ambiguous: prefer the specialist that handled the last turn.
	if last := thread.LastAgent(); knownAgent(last) {
		s.logger.Debug().Str("agent", last).Msg("Routing by session stickiness")
		return s.dispatch(last, message)
	}

	if MentionsMoney(message) {
		return s.dispatch(AgentBilling, message)
	}

	return RouteResult{
		Kind:   RouteDirect,
		Answer: "I want to make sure you reach the right team. Is this about a charge or payment, a return or exchange, or a product that isn't working?",
	}
}

func (s *Supervisor) dispatch(agent, message string) RouteResult {
	return RouteResult{
		Kind:  RouteDispatch,
		Agent: agent,
		Task:  reasoner.Task{Agent: agent, Instruction: message},
	}
}

// MatchKeywords applies the deterministic override rules. Returns the
// matched agent name or "". Pure function, first matching rule wins.
func MatchKeywords(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.agent
			}
		}
	}
	return ""
}

// MentionsMoney reports whether the message contains a monetary term.
func MentionsMoney(message string) bool {
	lower := strings.ToLower(message)
	for _, term := range monetaryTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func knownAgent(name string) bool {
	switch name {
	case AgentBilling, AgentReturns, AgentTroubleshoot:
		return true
	}
	return false
}
