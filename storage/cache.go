package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

// Documents is the remote task collection a Cache sits in front of.
type Documents interface {
	InsertTask(ctx context.Context, id string, draft domain.TaskDraft) error
	MergeTask(ctx context.Context, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
}

const (
	cacheIndexKey = "tasks-cache:index"
	// cacheGenKey is bumped on every eviction. A snapshot fetched under an
	// older generation is not stored.
	cacheGenKey = "tasks-cache:gen"
)

// Cache keeps owner snapshots in Redis. Any write evicts every cached snapshot
// since a single document change can affect both the owner view and the
// unfiltered one.
type Cache struct {
	base   Documents
	redis  *redis.Client
	ttl    time.Duration
	logger log.FieldLogger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A zero TTL disables caching of snapshots.
func NewCache(base Documents, client *redis.Client, ttl time.Duration, logger log.FieldLogger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, logger: logger}
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, ownerID); ok {
		return tasks, nil
	}
	gen, genOK := c.generation(ctx)
	tasks, err := c.base.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if genOK {
		c.store(ctx, ownerID, tasks, gen)
	}
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, id string, draft domain.TaskDraft) error {
	if err := c.base.InsertTask(ctx, id, draft); err != nil {
		return err
	}
	c.Evict(ctx)
	return nil
}

func (c *Cache) MergeTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	if err := c.base.MergeTask(ctx, id, patch); err != nil {
		return err
	}
	c.Evict(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.Evict(ctx)
	return nil
}

// Evict drops every cached snapshot.
func (c *Cache) Evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, cacheGenKey).Err(); err != nil {
		c.logger.WithError(err).Warn("bump snapshot cache generation")
	}
	keys, err := c.redis.SMembers(ctx, cacheIndexKey).Result()
	if err != nil {
		c.logger.WithError(err).Warn("read snapshot cache index")
		return
	}
	keys = append(keys, cacheIndexKey)
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("evict snapshot cache")
	}
}

func (c *Cache) load(ctx context.Context, ownerID string) ([]domain.Task, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	key := tasksCacheKey(ownerID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) generation(ctx context.Context) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, cacheGenKey).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		c.logger.WithError(err).Warn("read snapshot cache generation")
		return 0, false
	}
	return gen, true
}

// store caches tasks unless an eviction happened since gen was read.
func (c *Cache) store(ctx context.Context, ownerID string, tasks []domain.Task, gen int64) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	key := tasksCacheKey(ownerID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, cacheGenKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.SAdd(ctx, cacheIndexKey, key)
			return nil
		})
		return err
	}, cacheGenKey)
	if err != nil && err != redis.TxFailedErr {
		c.logger.WithError(err).Warn("store snapshot cache")
	}
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}
