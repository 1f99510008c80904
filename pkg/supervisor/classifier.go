package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/deskd/pkg/knowledge"
	"github.com/harun/deskd/pkg/reasoner"
)

const classifierPrompt = `You are an intent router for a customer support desk.
Classify the customer's message into exactly one of: billing, returns, troubleshoot, smalltalk.
Reply with JSON only: {"intent": "...", "confidence": 0.0, "reply": "..."}.
Set "reply" only for smalltalk, as a short friendly answer.`

// LLMClassifier classifies intent with a bounded reasoning call,
// grounding the prompt with retrieved policy passages. No tool side
// effects.
type LLMClassifier struct {
	client    reasoner.Client
	model     string
	retriever knowledge.Retriever
}

// NewLLMClassifier creates a classifier over the given backend.
func NewLLMClassifier(client reasoner.Client, model string, retriever knowledge.Retriever) *LLMClassifier {
	return &LLMClassifier{client: client, model: model, retriever: retriever}
}

type classifierVerdict struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reply      string  `json:"reply"`
}

// Classify asks the backend for an intent verdict.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (Classification, error) {
	prompt := classifierPrompt
	if c.retriever != nil {
		if passages, err := c.retriever.Search(ctx, message, 2); err == nil && len(passages) > 0 {
			var sb strings.Builder
			for _, p := range passages {
				sb.WriteString("\n- ")
				sb.WriteString(p.Content)
			}
			prompt = fmt.Sprintf("%s\n\nRelevant policy snippets:%s", prompt, sb.String())
		}
	}

	response, err := c.client.Call(ctx, reasoner.Request{
		Model:        c.model,
		Messages:     []reasoner.Message{{Role: "user", Content: message}},
		MaxTokens:    256,
		SystemPrompt: prompt,
	})
	if err != nil {
		return Classification{}, err
	}

	verdict, err := parseVerdict(response.Content)
	if err != nil {
		return Classification{}, err
	}

	if verdict.Intent == "smalltalk" {
		return Classification{SmallTalk: true, Answer: verdict.Reply, Confidence: verdict.Confidence}, nil
	}
	return Classification{Agent: verdict.Intent, Confidence: verdict.Confidence}, nil
}

// parseVerdict tolerates prose around the JSON object.
func parseVerdict(content string) (classifierVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return classifierVerdict{}, fmt.Errorf("no JSON verdict in classifier reply")
	}

	var verdict classifierVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return classifierVerdict{}, fmt.Errorf("failed to parse classifier verdict: %w", err)
	}
	verdict.Intent = strings.ToLower(strings.TrimSpace(verdict.Intent))
	return verdict, nil
}
