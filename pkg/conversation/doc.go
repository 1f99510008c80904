// Package conversation holds the durable state of customer support
// threads: the append-only turn history and the checkpoint of the
// in-flight specialist run, if any.
//
// Invariants:
// - Turns are append-only; a re-read is always prefix-compatible with
//   any earlier read of the same thread.
// - A checkpoint's pending tool call is set exactly when its status is
//   StatusAwaitingApproval.
// - Checkpoint replacement is a compare-and-swap against the previously
//   read status; the losing writer gets ErrConcurrentModification.
package conversation
