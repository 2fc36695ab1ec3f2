package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ezliveAnalytics/models"
)

// Redis hash table holding one field per worker record.
const REDIS_KEY_ALLWORKERS = "workers"

// RedisStore persists worker records so a restarted orchestrator recovers
// its registry before the first PONGs arrive.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore connects to Redis at redis_ip:redis_port.
func NewRedisStore(redisIp string, redisPort string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     redisIp + ":" + redisPort,
		Password: "",
		DB:       0,
	})

	return &RedisStore{Client: client}
}

// SaveWorker upserts one record (HSET workers <id> <json>).
func (s *RedisStore) SaveWorker(ctx context.Context, rec models.WorkerRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := s.Client.HSet(ctx, REDIS_KEY_ALLWORKERS, rec.InstanceId, string(b)).Err(); err != nil {
		return fmt.Errorf("save worker %s: %w", rec.InstanceId, err)
	}

	return nil
}

// LoadWorkers reads every persisted record.
func (s *RedisStore) LoadWorkers(ctx context.Context) ([]models.WorkerRecord, error) {
	vals, err := s.Client.HGetAll(ctx, REDIS_KEY_ALLWORKERS).Result()
	if err != nil {
		return nil, fmt.Errorf("load workers: %w", err)
	}

	records := make([]models.WorkerRecord, 0, len(vals))
	for id, v := range vals {
		var rec models.WorkerRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			// One corrupt field must not lose the whole table.
			continue
		}
		if rec.InstanceId == "" {
			rec.InstanceId = id
		}
		records = append(records, rec)
	}

	return records, nil
}

// DeleteWorker removes one record.
func (s *RedisStore) DeleteWorker(ctx context.Context, instanceId string) error {
	return s.Client.HDel(ctx, REDIS_KEY_ALLWORKERS, instanceId).Err()
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
