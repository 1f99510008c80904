// Package reasoner produces the next step of a specialist run: either a
// final answer or exactly one tool call. The Proposer interface keeps
// the specialist state machine independent of which reasoning backend
// (Anthropic, OpenAI, or a scripted stand-in) is configured.
package reasoner
