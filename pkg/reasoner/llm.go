package reasoner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/tools"
	"github.com/rs/zerolog"
)

// LLMProposer proposes next steps by calling a reasoning backend with
// the specialist's tool set, failing over across configured profiles.
type LLMProposer struct {
	profiles     []Profile
	factory      ClientCreator
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	toolDefs     []map[string]interface{}
	logger       zerolog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
	failures  map[string]int
}

// LLMConfig configures an LLMProposer.
type LLMConfig struct {
	Profiles     []Profile
	Factory      ClientCreator // defaults to ClientFactory
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Tools        []tools.Definition
	Logger       zerolog.Logger
}

// NewLLMProposer creates a proposer over the configured profiles.
func NewLLMProposer(cfg LLMConfig) (*LLMProposer, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one provider profile is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	factory := cfg.Factory
	if factory == nil {
		factory = &ClientFactory{}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	profiles := make([]Profile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Priority < profiles[j].Priority })

	return &LLMProposer{
		profiles:     profiles,
		factory:      factory,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    maxTokens,
		systemPrompt: cfg.SystemPrompt,
		toolDefs:     wireTools(cfg.Tools),
		logger:       cfg.Logger,
		cooldowns:    make(map[string]time.Time),
		failures:     make(map[string]int),
	}, nil
}

// ProposeNextStep asks the backend for the next action. At most one tool
// call is taken from the reply; extra calls are ignored with a warning.
func (p *LLMProposer) ProposeNextStep(ctx context.Context, task Task, scratch []conversation.ScratchEntry) (Decision, error) {
	request := Request{
		Model:        p.model,
		Messages:     buildMessages(task, scratch),
		Tools:        p.toolDefs,
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
		SystemPrompt: p.renderSystemPrompt(task),
	}

	var lastErr error
	for _, profile := range p.profiles {
		if p.inCooldown(profile.ID) {
			p.logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		client, err := p.factory.NewClient(profile)
		if err != nil {
			p.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create client")
			continue
		}

		response, err := client.Call(ctx, request)
		if err == nil {
			p.markSuccess(profile.ID)
			return decisionFrom(response, p.logger), nil
		}

		lastErr = err
		p.markFailure(profile.ID)
		p.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Provider call failed")

		if !IsRetryableError(err) {
			return Decision{}, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider profile available")
	}
	return Decision{}, fmt.Errorf("all provider profiles failed: %w", lastErr)
}

func (p *LLMProposer) renderSystemPrompt(task Task) string {
	prompt := p.systemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are the %s support specialist. Resolve the customer's request using the available tools, then give a final answer.", task.Agent)
	}
	if task.Context != "" {
		prompt = fmt.Sprintf("%s\n\n# Relevant support policy\n\n%s", prompt, task.Context)
	}
	return prompt
}

func (p *LLMProposer) inCooldown(profileID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.cooldowns[profileID])
}

func (p *LLMProposer) markSuccess(profileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[profileID] = 0
	delete(p.cooldowns, profileID)
}

func (p *LLMProposer) markFailure(profileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[profileID]++
	p.cooldowns[profileID] = time.Now().Add(time.Duration(p.failures[profileID]) * time.Minute)
}

// buildMessages renders the task and accumulated scratch state as a
// conversation the backend can continue.
func buildMessages(task Task, scratch []conversation.ScratchEntry) []Message {
	messages := []Message{{Role: roleUser, Content: task.Instruction}}

	for _, entry := range scratch {
		switch entry.Kind {
		case conversation.ScratchThought:
			messages = append(messages, Message{Role: roleAssistant, Content: entry.Content})
		case conversation.ScratchToolResult:
			messages = append(messages, Message{
				Role:    roleUser,
				Content: fmt.Sprintf("Tool %s result: %s", entry.Tool, entry.Content),
			})
		case conversation.ScratchToolError:
			messages = append(messages, Message{
				Role:    roleUser,
				Content: fmt.Sprintf("Tool %s failed: %s", entry.Tool, entry.Content),
			})
		case conversation.ScratchSummary:
			messages = append(messages, Message{
				Role:    roleUser,
				Content: fmt.Sprintf("Summary of earlier steps: %s", entry.Content),
			})
		default:
			messages = append(messages, Message{Role: roleUser, Content: entry.Content})
		}
	}

	return messages
}

func decisionFrom(response *Response, logger zerolog.Logger) Decision {
	if len(response.ToolCalls) == 0 {
		return Decision{Kind: DecideAnswer, Answer: response.Content}
	}
	if len(response.ToolCalls) > 1 {
		logger.Warn().
			Int("tool_calls", len(response.ToolCalls)).
			Msg("Backend proposed multiple tool calls, taking the first")
	}
	tc := response.ToolCalls[0]
	return Decision{
		Kind:     DecideToolCall,
		ToolCall: &ToolRequest{Name: tc.Name, Args: tc.Parameters},
	}
}

// wireTools converts registry definitions to the provider wire format.
func wireTools(defs []tools.Definition) []map[string]interface{} {
	if len(defs) == 0 {
		return nil
	}

	wire := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		properties := map[string]interface{}{}
		required := []string{}
		for _, param := range def.Parameters {
			properties[param.Name] = map[string]interface{}{
				"type":        param.Type,
				"description": param.Description,
			}
			if param.Required {
				required = append(required, param.Name)
			}
		}

		inputSchema := map[string]interface{}{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			inputSchema["required"] = required
		}

		wire = append(wire, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": inputSchema,
		})
	}
	return wire
}
