package graphie

import "context"

// SessionSource reads session records. The resolver only needs this slice of
// the store; during a drive the engine layers the in-flight session on top so
// references to the current session see unsaved memory.
type SessionSource interface {
	GetSession(ctx context.Context, id string) (*Session, error)
}

// GraphStore is the narrow CRUD surface over the property-graph backend:
// STEP nodes, SESSION nodes, and NEXT edges. Implementations return
// ErrNotFound for missing records.
type GraphStore interface {
	SessionSource

	GetStep(ctx context.Context, id string) (Step, error)
	OutgoingEdges(ctx context.Context, stepID string) ([]Edge, error)
	UpsertStep(ctx context.Context, step Step) error
	UpsertEdge(ctx context.Context, edge Edge) error

	CreateSession(ctx context.Context, s *Session) error
	SaveSession(ctx context.Context, s *Session) error

	Close(ctx context.Context) error
}

// liveSessionSource overlays an in-flight session over the backing store so
// the resolver reads memory appended earlier in the same drive pass.
type liveSessionSource struct {
	store GraphStore
	sess  *Session
}

func (s liveSessionSource) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == s.sess.ID {
		return s.sess, nil
	}
	return s.store.GetSession(ctx, id)
}
