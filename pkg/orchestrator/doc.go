// Package orchestrator ties the supervisor, specialist engines, approval
// gate, and thread store into one resumable execution per user turn.
//
// Invariants:
//   - one in-flight task per thread; concurrent turns for the same
//     thread are serialized through the store's checkpoint CAS, the
//     loser surfaces ErrConcurrentModification for the caller to retry
//   - a thread awaiting approval rejects new user messages instead of
//     starting a second task
//   - failed runs reach the user as a generic escalation answer; the
//     internal failure reason and full tool trace go to the audit log
//     only
package orchestrator
