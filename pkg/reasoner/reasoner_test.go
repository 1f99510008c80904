package reasoner

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	provider  string
	responses []*Response
	errs      []error
	calls     int
	requests  []Request
}

func (c *fakeClient) Provider() string { return c.provider }

func (c *fakeClient) Call(_ context.Context, request Request) (*Response, error) {
	c.requests = append(c.requests, request)
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return &Response{Content: "ok"}, nil
}

type fakeFactory struct {
	clients map[string]*fakeClient
}

func (f *fakeFactory) NewClient(profile Profile) (Client, error) {
	client, ok := f.clients[profile.ID]
	if !ok {
		return nil, errors.New("no client for profile")
	}
	return client, nil
}

func TestClientFactoryUnsupportedProvider(t *testing.T) {
	factory := &ClientFactory{}
	_, err := factory.NewClient(Profile{ID: "p1", Provider: "cohere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("upstream returned 503"), true},
		{"conn reset", errors.New("read tcp: ECONNRESET"), true},
		{"auth", errors.New("401 invalid api key"), false},
		{"bad request", errors.New("400 invalid model"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestScriptedProposerReplaysThenFallsBack(t *testing.T) {
	proposer := NewScriptedProposer([]Decision{
		{Kind: DecideToolCall, ToolCall: &ToolRequest{Name: "lookup_order", Args: map[string]interface{}{"order_id": "A1"}}},
		{Kind: DecideAnswer, Answer: "done"},
	}, "nothing left")

	task := Task{Agent: "returns", Instruction: "where is my order"}

	first, err := proposer.ProposeNextStep(context.Background(), task, nil)
	require.NoError(t, err)
	require.Equal(t, DecideToolCall, first.Kind)
	assert.Equal(t, "lookup_order", first.ToolCall.Name)
	assert.Equal(t, 1, proposer.Remaining())

	second, err := proposer.ProposeNextStep(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", second.Answer)

	third, err := proposer.ProposeNextStep(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, DecideAnswer, third.Kind)
	assert.Equal(t, "nothing left", third.Answer)
}

func newTestProposer(t *testing.T, factory ClientCreator, profiles ...Profile) *LLMProposer {
	t.Helper()
	proposer, err := NewLLMProposer(LLMConfig{
		Profiles: profiles,
		Factory:  factory,
		Model:    "test-model",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return proposer
}

func TestLLMProposerAnswer(t *testing.T) {
	factory := &fakeFactory{clients: map[string]*fakeClient{
		"primary": {provider: "anthropic", responses: []*Response{{Content: "your refund is on its way"}}},
	}}
	proposer := newTestProposer(t, factory, Profile{ID: "primary", Provider: "anthropic"})

	decision, err := proposer.ProposeNextStep(context.Background(), Task{Agent: "billing", Instruction: "refund status"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DecideAnswer, decision.Kind)
	assert.Equal(t, "your refund is on its way", decision.Answer)
}

func TestLLMProposerTakesFirstToolCall(t *testing.T) {
	factory := &fakeFactory{clients: map[string]*fakeClient{
		"primary": {provider: "anthropic", responses: []*Response{{
			ToolCalls: []WireToolCall{
				{ID: "tc1", Name: "lookup_bills", Parameters: map[string]interface{}{"account_id": "acct-1"}},
				{ID: "tc2", Name: "send_invoice", Parameters: map[string]interface{}{}},
			},
		}}},
	}}
	proposer := newTestProposer(t, factory, Profile{ID: "primary", Provider: "anthropic"})

	decision, err := proposer.ProposeNextStep(context.Background(), Task{Agent: "billing", Instruction: "show my bills"}, nil)
	require.NoError(t, err)
	require.Equal(t, DecideToolCall, decision.Kind)
	assert.Equal(t, "lookup_bills", decision.ToolCall.Name)
	assert.Equal(t, "acct-1", decision.ToolCall.Args["account_id"])
}

func TestLLMProposerFailsOverOnRetryableError(t *testing.T) {
	primary := &fakeClient{provider: "anthropic", errs: []error{errors.New("503 service unavailable")}}
	secondary := &fakeClient{provider: "openai", responses: []*Response{{Content: "fallback answer"}}}
	factory := &fakeFactory{clients: map[string]*fakeClient{"primary": primary, "secondary": secondary}}

	proposer := newTestProposer(t, factory,
		Profile{ID: "secondary", Provider: "openai", Priority: 2},
		Profile{ID: "primary", Provider: "anthropic", Priority: 1},
	)

	decision, err := proposer.ProposeNextStep(context.Background(), Task{Agent: "billing", Instruction: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", decision.Answer)
	assert.Equal(t, 1, primary.calls, "lower priority value should be tried first")
	assert.Equal(t, 1, secondary.calls)
}

func TestLLMProposerStopsOnNonRetryableError(t *testing.T) {
	primary := &fakeClient{provider: "anthropic", errs: []error{errors.New("401 invalid api key")}}
	secondary := &fakeClient{provider: "openai"}
	factory := &fakeFactory{clients: map[string]*fakeClient{"primary": primary, "secondary": secondary}}

	proposer := newTestProposer(t, factory,
		Profile{ID: "primary", Provider: "anthropic", Priority: 1},
		Profile{ID: "secondary", Provider: "openai", Priority: 2},
	)

	_, err := proposer.ProposeNextStep(context.Background(), Task{Agent: "billing", Instruction: "hi"}, nil)
	require.Error(t, err)
	assert.Equal(t, 0, secondary.calls)
}

func TestLLMProposerCooldownSkipsFailedProfile(t *testing.T) {
	primary := &fakeClient{provider: "anthropic", errs: []error{errors.New("429 rate limit")}}
	secondary := &fakeClient{provider: "openai", responses: []*Response{
		{Content: "first"},
		{Content: "second"},
	}}
	factory := &fakeFactory{clients: map[string]*fakeClient{"primary": primary, "secondary": secondary}}

	proposer := newTestProposer(t, factory,
		Profile{ID: "primary", Provider: "anthropic", Priority: 1},
		Profile{ID: "secondary", Provider: "openai", Priority: 2},
	)

	_, err := proposer.ProposeNextStep(context.Background(), Task{Agent: "billing", Instruction: "hi"}, nil)
	require.NoError(t, err)

	_, err = proposer.ProposeNextStep(context.Background(), Task{Agent: "billing", Instruction: "again"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls, "failed profile should stay in cooldown on the second turn")
	assert.Equal(t, 2, secondary.calls)
}

func TestLLMProposerRequiresProfilesAndModel(t *testing.T) {
	_, err := NewLLMProposer(LLMConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewLLMProposer(LLMConfig{Profiles: []Profile{{ID: "p", Provider: "anthropic"}}})
	require.Error(t, err)
}

func TestBuildMessagesRendersScratch(t *testing.T) {
	task := Task{Agent: "troubleshoot", Instruction: "my router keeps rebooting"}
	scratch := []conversation.ScratchEntry{
		{Kind: conversation.ScratchThought, Content: "check diagnostics first"},
		{Kind: conversation.ScratchToolResult, Tool: "run_diagnostic", Content: `{"status":"degraded"}`},
		{Kind: conversation.ScratchToolError, Tool: "run_diagnostic", Content: "timeout"},
	}

	messages := buildMessages(task, scratch)
	require.Len(t, messages, 4)
	assert.Equal(t, roleUser, messages[0].Role)
	assert.Equal(t, "my router keeps rebooting", messages[0].Content)
	assert.Equal(t, roleAssistant, messages[1].Role)
	assert.Contains(t, messages[2].Content, "run_diagnostic result")
	assert.Contains(t, messages[3].Content, "run_diagnostic failed: timeout")
}

func TestWireToolsSchema(t *testing.T) {
	defs := []tools.Definition{{
		Name:        "issue_refund",
		Description: "Issue a refund to the customer",
		Parameters: []tools.Parameter{
			{Name: "amount", Type: "number", Description: "refund amount", Required: true},
			{Name: "currency", Type: "string", Description: "ISO currency code"},
		},
	}}

	wire := wireTools(defs)
	require.Len(t, wire, 1)
	assert.Equal(t, "issue_refund", wire[0]["name"])

	schema := wire[0]["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"amount"}, schema["required"])

	properties := schema["properties"].(map[string]interface{})
	require.Contains(t, properties, "amount")
	require.Contains(t, properties, "currency")
}

func TestRenderSystemPromptIncludesContext(t *testing.T) {
	proposer := newTestProposer(t,
		&fakeFactory{clients: map[string]*fakeClient{"p": {provider: "anthropic"}}},
		Profile{ID: "p", Provider: "anthropic"},
	)

	prompt := proposer.renderSystemPrompt(Task{Agent: "billing", Context: "Refunds over $100 need approval."})
	assert.Contains(t, prompt, "billing")
	assert.Contains(t, prompt, "Refunds over $100 need approval.")
}
