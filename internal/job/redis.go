package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motionrender/render-api/internal/fault"
)

// Redis key layout. Jobs are stored as JSON in a hash; the pending queue
// is a list of ids; active leases are a hash of id -> lease deadline
// (unix seconds).
const (
	redisQueueKey  = "render:queue"
	redisJobsKey   = "render:jobs"
	redisActiveKey = "render:active"
)

// leaseScript atomically enforces the concurrency cap and pops the queue
// head. KEYS: queue, active. ARGV: max in-flight, lease deadline (unix).
// Returns the leased job id or false.
var leaseScript = redis.NewScript(`
if redis.call('HLEN', KEYS[2]) >= tonumber(ARGV[1]) then
	return false
end
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
redis.call('HSET', KEYS[2], id, ARGV[2])
return id
`)

// Compile-time check that RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// RedisQueue is the redis-backed Queue used when STORE_URL is configured.
// It is safe for concurrent use by multiple coordinator processes; only
// Lease requires cross-process atomicity and is implemented as a Lua
// script.
type RedisQueue struct {
	client       *redis.Client
	maxInFlight  int
	leaseTimeout time.Duration
}

// NewRedisQueue creates a redis-backed queue. The caller owns the client.
func NewRedisQueue(client *redis.Client, maxInFlight int, leaseTimeout time.Duration) *RedisQueue {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &RedisQueue{client: client, maxInFlight: maxInFlight, leaseTimeout: leaseTimeout}
}

func (q *RedisQueue) saveJob(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j.Clone())
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	if err := q.client.HSet(ctx, redisJobsKey, j.ID, data).Err(); err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "save job", err).WithJob(j.ID)
	}
	return nil
}

func (q *RedisQueue) loadJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.HGet(ctx, redisJobsKey, jobID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, fault.Wrap(fault.KindStoreUnavailable, "load job", err).WithJob(jobID)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &j, nil
}

// Enqueue stores the job record and appends its id to the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, j *Job) error {
	exists, err := q.client.HExists(ctx, redisJobsKey, j.ID).Result()
	if err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "enqueue", err).WithJob(j.ID)
	}
	if exists {
		return ErrDuplicateJob
	}
	if err := q.saveJob(ctx, j); err != nil {
		return err
	}
	if err := q.client.RPush(ctx, redisQueueKey, j.ID).Err(); err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "enqueue", err).WithJob(j.ID)
	}
	return nil
}

// Lease atomically claims the queue head when below the concurrency cap.
func (q *RedisQueue) Lease(ctx context.Context) (*Job, error) {
	deadline := time.Now().Add(q.leaseTimeout).Unix()
	res, err := leaseScript.Run(ctx, q.client,
		[]string{redisQueueKey, redisActiveKey},
		q.maxInFlight, deadline,
	).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fault.Wrap(fault.KindStoreUnavailable, "lease", err)
	}
	jobID, ok := res.(string)
	if !ok || jobID == "" {
		return nil, nil
	}

	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		// The id was claimed but its record is gone; drop the lease.
		q.client.HDel(ctx, redisActiveKey, jobID)
		return nil, err
	}
	_ = j.Start()
	if err := q.saveJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (q *RedisQueue) finish(ctx context.Context, jobID string, apply func(*Job) error) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := q.client.HDel(ctx, redisActiveKey, jobID).Err(); err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "release lease", err).WithJob(jobID)
	}
	if err := apply(j); err != nil {
		return err
	}
	return q.saveJob(ctx, j)
}

// Complete removes the lease and marks the job completed.
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, func(j *Job) error { return j.Complete() })
}

// Fail removes the lease and marks the job failed.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, kind fault.Kind, message string) error {
	return q.finish(ctx, jobID, func(j *Job) error { return j.Fail(kind, message) })
}

// Cancel removes a pending job, or flags an in-flight job for the owning
// coordinator to acknowledge at its next checkpoint.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	leased, err := q.client.HExists(ctx, redisActiveKey, jobID).Result()
	if err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "cancel", err).WithJob(jobID)
	}
	if leased {
		j.RequestCancel()
		return q.saveJob(ctx, j)
	}
	if err := q.client.LRem(ctx, redisQueueKey, 0, jobID).Err(); err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "cancel", err).WithJob(jobID)
	}
	if err := j.Cancel(); err != nil {
		return err
	}
	return q.saveJob(ctx, j)
}

// AckCancel finalizes a cooperative cancel of an in-flight job.
func (q *RedisQueue) AckCancel(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, func(j *Job) error { return j.Cancel() })
}

// Update persists a mutated job record.
func (q *RedisQueue) Update(ctx context.Context, j *Job) error {
	return q.saveJob(ctx, j)
}

// SetProgress advances the stored job's progress, preserving status and
// the cancel flag via read-modify-write on the record.
func (q *RedisQueue) SetProgress(ctx context.Context, jobID string, progress int) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	j.UpdateProgress(progress)
	return q.saveJob(ctx, j)
}

// Get returns the stored job record.
func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	return q.loadJob(ctx, jobID)
}

// Status returns queue occupancy counters.
func (q *RedisQueue) Status(ctx context.Context) (QueueStatus, error) {
	pipe := q.client.Pipeline()
	queued := pipe.LLen(ctx, redisQueueKey)
	active := pipe.HLen(ctx, redisActiveKey)
	total := pipe.HLen(ctx, redisJobsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStatus{}, fault.Wrap(fault.KindStoreUnavailable, "queue status", err)
	}
	return QueueStatus{
		Queued:   int(queued.Val()),
		InFlight: int(active.Val()),
		Total:    int(total.Val()),
		Max:      q.maxInFlight,
	}, nil
}

// ReapExpired scans active leases and requeues the expired ones so a
// crashed coordinator's jobs are eventually re-leased.
func (q *RedisQueue) ReapExpired(ctx context.Context) ([]string, error) {
	active, err := q.client.HGetAll(ctx, redisActiveKey).Result()
	if err != nil {
		return nil, fault.Wrap(fault.KindStoreUnavailable, "reap leases", err)
	}
	now := time.Now().Unix()

	var requeued []string
	for jobID, raw := range active {
		deadline, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || deadline > now {
			continue
		}
		if err := q.client.HDel(ctx, redisActiveKey, jobID).Err(); err != nil {
			continue
		}
		j, err := q.loadJob(ctx, jobID)
		if err != nil {
			continue
		}
		j.Status = StatusQueued
		if err := q.saveJob(ctx, j); err != nil {
			continue
		}
		if err := q.client.RPush(ctx, redisQueueKey, jobID).Err(); err != nil {
			continue
		}
		requeued = append(requeued, jobID)
	}
	return requeued, nil
}
