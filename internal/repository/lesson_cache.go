package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"rulebook_backend/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	lessonListCacheKey  = "rulebook:lessons:all:"
	lessonGenerationKey = "rulebook:lessons:generation"
)

// RedisLessonCache keeps the ordered public lesson list in Redis. Entries are
// keyed by a generation number that Invalidate bumps, so a list read from the
// database before an invalidation is written under a key nobody reads.
type RedisLessonCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewRedisLessonCache(rdb *redis.Client, ttl time.Duration) *RedisLessonCache {
	return &RedisLessonCache{Redis: rdb, TTL: ttl}
}

func (c *RedisLessonCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.Redis.Get(ctx, lessonGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisLessonCache) Get(ctx context.Context) ([]model.Lesson, int64, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, -1, false
	}
	val, err := c.Redis.Get(ctx, lessonListCacheKey+strconv.FormatInt(gen, 10)).Bytes()
	if err != nil {
		return nil, gen, false
	}
	var lessons []model.Lesson
	if err := json.Unmarshal(val, &lessons); err != nil {
		return nil, gen, false
	}
	return lessons, gen, true
}

func (c *RedisLessonCache) Set(ctx context.Context, generation int64, lessons []model.Lesson) error {
	if generation < 0 {
		return nil
	}
	data, err := json.Marshal(lessons)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, lessonListCacheKey+strconv.FormatInt(generation, 10), data, c.TTL).Err()
}

// Invalidate moves readers to a fresh generation; the old entry expires on its TTL.
func (c *RedisLessonCache) Invalidate(ctx context.Context) error {
	return c.Redis.Incr(ctx, lessonGenerationKey).Err()
}

// NopLessonCache is used when Redis is disabled.
type NopLessonCache struct{}

func (NopLessonCache) Get(context.Context) ([]model.Lesson, int64, bool) { return nil, -1, false }
func (NopLessonCache) Set(context.Context, int64, []model.Lesson) error  { return nil }
func (NopLessonCache) Invalidate(context.Context) error                  { return nil }
