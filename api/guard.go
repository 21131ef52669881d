package api

import (
	"context"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// GuardStore is the slice of storage the access guard needs.
type GuardStore interface {
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
	GetMember(ctx context.Context, boardID, userID string) (*domain.Member, error)
}

// Guard resolves whether a user may act on a board's subtree. Every read and
// mutation path, including realtime stream joins, goes through Authorize; a
// failed check reports domain.ErrNotFound so callers cannot distinguish a
// board that does not exist from one they are not allowed to see.
type Guard struct {
	store GuardStore
}

// NewGuard creates a Guard backed by the given store.
func NewGuard(store GuardStore) *Guard {
	return &Guard{store: store}
}

// Authorize returns the caller's role on the board. Owning the board grants
// RoleOwner regardless of the membership row.
func (g *Guard) Authorize(ctx context.Context, boardID, userID string) (domain.Role, error) {
	if boardID == "" || userID == "" {
		return "", domain.ErrNotFound
	}
	b, err := g.store.GetBoard(ctx, boardID)
	if err != nil {
		return "", err
	}
	if b == nil {
		return "", domain.ErrNotFound
	}
	if b.OwnerID == userID {
		return domain.RoleOwner, nil
	}
	m, err := g.store.GetMember(ctx, boardID, userID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", domain.ErrNotFound
	}
	return m.Role, nil
}

// RequireOwner is Authorize restricted to the owner role. Plain membership
// reports the same merged not-found outcome as no access at all.
func (g *Guard) RequireOwner(ctx context.Context, boardID, userID string) error {
	role, err := g.Authorize(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner {
		return domain.ErrNotFound
	}
	return nil
}
