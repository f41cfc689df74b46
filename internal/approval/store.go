package approval

import "context"

// Store persists approval records. Resolution is first-write-wins: Approve
// and Deny transition the record only while it is still pending, atomically
// per implementation, and hand back the stored record either way so callers
// can observe who won.
type Store interface {
	// Create allocates a fresh id and persists a pending record.
	Create(ctx context.Context, payload Payload) (*Record, error)

	// Get looks up a record. Unknown ids return ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Approve resolves a pending record. Resolving an already-terminal
	// record is a no-op that returns the existing record.
	Approve(ctx context.Context, id string) (*Record, error)

	// Deny mirrors Approve for the denied state.
	Deny(ctx context.Context, id string) (*Record, error)

	// ListPending returns unresolved records, newest first.
	ListPending(ctx context.Context, limit int) ([]*Record, error)

	Close() error
}
