package conversation

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrThreadNotFound is returned when loading a thread that does not exist.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrConcurrentModification is returned when a checkpoint CAS loses the race.
	ErrConcurrentModification = errors.New("concurrent checkpoint modification")
)

// Store is the durable backing for threads. Implementations must be safe
// for concurrent use by many threads.
type Store interface {
	// Ensure creates the thread if it does not exist and returns it.
	Ensure(ctx context.Context, threadID string) (*Thread, error)

	// Load returns the thread with its full turn history and checkpoint.
	Load(ctx context.Context, threadID string) (*Thread, error)

	// AppendTurn appends a turn to the thread's history.
	AppendTurn(ctx context.Context, threadID string, turn Turn) error

	// CompareAndSwapCheckpoint atomically replaces the thread's checkpoint,
	// guarded by the status the caller last observed. Passing StatusNone as
	// expected matches idle threads that have never run.
	CompareAndSwapCheckpoint(ctx context.Context, threadID string, expected CheckpointStatus, next *Checkpoint) error

	// ListByStatus returns the ids of threads whose checkpoint currently
	// has the given status.
	ListByStatus(ctx context.Context, status CheckpointStatus) ([]string, error)

	// Close flushes and releases the store.
	Close() error
}
