package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"comfyrelay/internal/models"
)

// ErrNotFound is returned by GetRecord for unknown or expired jobs.
var ErrNotFound = errors.New("job record not found")

type RedisQueue struct {
	rdb       *redis.Client
	queueName string
	ttl       time.Duration
}

func NewRedisQueue(rdb *redis.Client, queueName string, ttl time.Duration) *RedisQueue {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQueue{rdb: rdb, queueName: queueName, ttl: ttl}
}

// RecordKey is the key holding the record of job id.
func (q *RedisQueue) RecordKey(id string) string {
	return q.queueName + ":record:" + id
}

// Push enqueues a job envelope and records it as IN_QUEUE.
func (q *RedisQueue) Push(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if err := q.SetRecord(ctx, models.JobRecord{ID: job.ID, Status: models.JobInQueue}); err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.queueName, payload).Err()
}

// Pop blocks until an envelope is available (BRPOP).
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, 0, q.queueName).Result()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// SetRecord stores rec with the result TTL. UpdatedAt is set when zero.
func (q *RedisQueue) SetRecord(ctx context.Context, rec models.JobRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.RecordKey(rec.ID), raw, q.ttl).Err()
}

func (q *RedisQueue) GetRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	raw, err := q.rdb.Get(ctx, q.RecordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec models.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", id, err)
	}
	return &rec, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
