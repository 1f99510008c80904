// Package hitl implements the human-in-the-loop approval gate.
//
// A gated tool call suspends its run by persisting a checkpoint with
// status awaiting_approval; the process handling the suspension may exit
// and a different process may later resume. Resumption is driven purely
// by stored state plus the incoming approval decision: approve executes
// the pending call, deny turns into an observation the agent reacts to,
// and either way the specialist loop continues from where it stopped.
package hitl
