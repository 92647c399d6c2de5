package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/digkill/printstudio/internal/models"
)

const (
	defaultRedisPrefix = "studio"
	maxLogEntries      = 500
)

// ConnectRedis creates a client and verifies the connection with a ping.
func ConnectRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisProjectRepository keeps one JSON value per project plus a sorted set
// of ids scored by save time.
type RedisProjectRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisProjectRepository(client *redis.Client, prefix string) *RedisProjectRepository {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisProjectRepository{client: client, prefix: prefix}
}

func (r *RedisProjectRepository) projectKey(id string) string { return r.prefix + ":project:" + id }
func (r *RedisProjectRepository) indexKey() string          { return r.prefix + ":projects" }

func (r *RedisProjectRepository) Save(ctx context.Context, p models.Project) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project snapshot: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.projectKey(p.ID), raw, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(p.Timestamp), Member: p.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save project: %w", err)
	}
	return nil
}

func (r *RedisProjectRepository) Get(ctx context.Context, id string) (models.Project, error) {
	raw, err := r.client.Get(ctx, r.projectKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Project{}, ErrNotFound
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("redis get project: %w", err)
	}
	return decodeProject(raw)
}

func (r *RedisProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list projects: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.projectKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load projects: %w", err)
	}

	out := make([]models.Project, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		p, err := decodeProject(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisProjectRepository) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.projectKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete project: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// RedisGenerationLog keeps a capped list of entries per project.
type RedisGenerationLog struct {
	client *redis.Client
	prefix string
}

func NewRedisGenerationLog(client *redis.Client, prefix string) *RedisGenerationLog {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisGenerationLog{client: client, prefix: prefix}
}

func (r *RedisGenerationLog) key(projectID string) string { return r.prefix + ":genlog:" + projectID }

func (r *RedisGenerationLog) Log(ctx context.Context, entry models.GenerationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode generation log: %w", err)
	}
	key := r.key(entry.ProjectID)
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, maxLogEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push generation log: %w", err)
	}
	return nil
}

func (r *RedisGenerationLog) Recent(ctx context.Context, projectID string, limit int) ([]models.GenerationLog, error) {
	if limit <= 0 {
		limit = 20
	}
	items, err := r.client.LRange(ctx, r.key(projectID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list generation logs: %w", err)
	}
	out := make([]models.GenerationLog, 0, len(items))
	for _, item := range items {
		var e models.GenerationLog
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode generation log: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

var (
	_ ProjectStore       = (*RedisProjectRepository)(nil)
	_ GenerationLogStore = (*RedisGenerationLog)(nil)
)
