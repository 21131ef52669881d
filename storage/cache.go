package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

type backend interface {
	FetchSnapshot(ctx context.Context, boardID string) (*domain.BoardSnapshot, error)
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoardTree(ctx context.Context, boardID string) error
	InsertMember(ctx context.Context, m domain.Member) error
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteListTree(ctx context.Context, boardID, listID string) error
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTaskTree(ctx context.Context, boardID, taskID string) error
	InsertAssignment(ctx context.Context, a domain.Assignment) error
	DeleteAssignment(ctx context.Context, boardID, taskID, userID string) error
}

// Cache wraps a Store with Redis-backed caching for board snapshot reads.
// Mutations that change a subtree evict the board's snapshot; the stream
// dispatcher evicts again when the event reaches subscribers, so a cached
// snapshot is never older than the last delivered event.
type Cache struct {
	*Store
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	c := &Cache{base: base, redis: client, ttl: ttl}
	if s, ok := base.(*Store); ok {
		c.Store = s
	}
	return c
}

func (c *Cache) FetchSnapshot(ctx context.Context, boardID string) (*domain.BoardSnapshot, error) {
	if snap, ok := c.loadSnapshot(ctx, boardID); ok {
		return snap, nil
	}

	snap, err := c.base.FetchSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		c.storeSnapshot(ctx, boardID, snap)
	}
	return snap, nil
}

func (c *Cache) UpdateBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.UpdateBoard(ctx, b); err != nil {
		return err
	}
	c.Evict(ctx, b.ID)
	return nil
}

func (c *Cache) DeleteBoardTree(ctx context.Context, boardID string) error {
	if err := c.base.DeleteBoardTree(ctx, boardID); err != nil {
		return err
	}
	c.Evict(ctx, boardID)
	return nil
}

func (c *Cache) InsertMember(ctx context.Context, m domain.Member) error {
	if err := c.base.InsertMember(ctx, m); err != nil {
		return err
	}
	c.Evict(ctx, m.BoardID)
	return nil
}

func (c *Cache) InsertList(ctx context.Context, l domain.List) error {
	if err := c.base.InsertList(ctx, l); err != nil {
		return err
	}
	c.Evict(ctx, l.BoardID)
	return nil
}

func (c *Cache) UpdateList(ctx context.Context, l domain.List) error {
	if err := c.base.UpdateList(ctx, l); err != nil {
		return err
	}
	c.Evict(ctx, l.BoardID)
	return nil
}

func (c *Cache) DeleteListTree(ctx context.Context, boardID, listID string) error {
	if err := c.base.DeleteListTree(ctx, boardID, listID); err != nil {
		return err
	}
	c.Evict(ctx, boardID)
	return nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.Evict(ctx, t.BoardID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.Evict(ctx, t.BoardID)
	return nil
}

func (c *Cache) DeleteTaskTree(ctx context.Context, boardID, taskID string) error {
	if err := c.base.DeleteTaskTree(ctx, boardID, taskID); err != nil {
		return err
	}
	c.Evict(ctx, boardID)
	return nil
}

func (c *Cache) InsertAssignment(ctx context.Context, a domain.Assignment) error {
	if err := c.base.InsertAssignment(ctx, a); err != nil {
		return err
	}
	c.Evict(ctx, a.BoardID)
	return nil
}

func (c *Cache) DeleteAssignment(ctx context.Context, boardID, taskID, userID string) error {
	if err := c.base.DeleteAssignment(ctx, boardID, taskID, userID); err != nil {
		return err
	}
	c.Evict(ctx, boardID)
	return nil
}

// Evict drops the cached snapshot for the board.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
}

func (c *Cache) loadSnapshot(ctx context.Context, boardID string) (*domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var snap domain.BoardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return nil, false
	}
	return &snap, true
}

func (c *Cache) storeSnapshot(ctx context.Context, boardID string, snap *domain.BoardSnapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(boardID), data, c.ttl).Err()
}

func snapshotCacheKey(boardID string) string {
	return "board:snapshot:" + boardID
}
