// Package specialist runs the bounded decide/act/observe loop that each
// domain agent (billing, returns, troubleshoot) executes for one task.
//
// The loop is an explicit state machine, not recursion. Invariants:
//   - at most MaxCycles decide/act/observe iterations per task; exceeding
//     the cap terminates the run as failed
//   - tool failures, validation failures, and step timeouts are
//     observations the next deciding step reacts to, never immediate
//     hard failures
//   - a gated tool call suspends the run and surfaces the pending call;
//     the engine never executes a gated tool itself
package specialist
