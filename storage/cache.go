package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// generationTTL bounds how long an idle organization's write counter is kept.
// Expiry can only make a fill be skipped.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("tasks changed during fill")

type backend interface {
	FetchTasks(ctx context.Context, org string) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, upd domain.StatusUpdate) (domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, org, id string) error
}

// Cache wraps a backend with a Redis read-through cache of each
// organization's task list. Every write evicts the organization's entry.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// FetchTasks serves the organization's tasks from Redis, falling back to the
// base storage. A list read while a write evicted the entry is returned but
// not cached.
func (c *Cache) FetchTasks(ctx context.Context, org string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, org); ok {
		return tasks, nil
	}
	gen, genOK := c.generation(ctx, org)
	tasks, err := c.base.FetchTasks(ctx, org)
	if err != nil {
		return nil, err
	}
	if genOK {
		c.store(ctx, org, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) UpdateTaskStatus(ctx context.Context, upd domain.StatusUpdate) (domain.Task, error) {
	t, err := c.base.UpdateTaskStatus(ctx, upd)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, upd.Organization)
	return t, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.Organization)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, org, id string) error {
	if err := c.base.DeleteTask(ctx, org, id); err != nil {
		return err
	}
	c.evict(ctx, org)
	return nil
}

func (c *Cache) load(ctx context.Context, org string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(org)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// Fall back to the backing storage on redis errors.
			_ = c.redis.Del(ctx, tasksCacheKey(org)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(org)).Err()
		return nil, false
	}
	return tasks, true
}

// generation returns the organization's write counter. Every eviction bumps
// it, so a fill carrying an older value lost a race with a write.
func (c *Cache) generation(ctx context.Context, org string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, tasksGenerationKey(org)).Int64()
	if err != nil && err != redis.Nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) store(ctx context.Context, org string, gen int64, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	genKey := tasksGenerationKey(org)
	// WATCH aborts the fill when an eviction lands between the check and EXEC.
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, tasksCacheKey(org), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, org string) {
	if c.redis == nil {
		return
	}
	genKey := tasksGenerationKey(org)
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, tasksCacheKey(org))
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, generationTTL)
		return nil
	})
}

func tasksCacheKey(org string) string {
	return "tasks:" + org
}

func tasksGenerationKey(org string) string {
	return "tasks:gen:" + org
}
