package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/schedule"
)

// DefaultRedisPrefix namespaces every key the Redis binding writes.
const DefaultRedisPrefix = "wb"

// Hash fields of a job.
const (
	fieldName         = "name"
	fieldData         = "data"
	fieldStatus       = "status"
	fieldAttempts     = "attempts"
	fieldPriority     = "priority"
	fieldDelay        = "delay"
	fieldCreatedAt    = "createdAt"
	fieldProcessedAt  = "processedAt"
	fieldFinishedAt   = "finishedAt"
	fieldAttemptsMade = "attemptsMade"
	fieldProgress     = "progress"
	fieldFailedReason = "failedReason"
	fieldStacktrace   = "stacktrace"
	fieldReturnValue  = "returnvalue"
	fieldParentQueue  = "parentQueue"
	fieldParentID     = "parentId"
	fieldParentKey    = "parentKey"
)

// bucketStatuses are the statuses with their own sorted set.
var bucketStatuses = []core.JobStatus{
	core.StatusWaiting,
	core.StatusActive,
	core.StatusCompleted,
	core.StatusFailed,
	core.StatusDelayed,
	core.StatusPaused,
	core.StatusWaitingChildren,
}

// RedisBackend stores queues in Redis. Each job is a hash, each status
// bucket a sorted set scored by time in milliseconds.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisBackend.
type RedisOption interface {
	applyRedis(*RedisBackend)
}

type redisOptionFunc func(*RedisBackend)

func (f redisOptionFunc) applyRedis(b *RedisBackend) { f(b) }

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return redisOptionFunc(func(b *RedisBackend) {
		if prefix != "" {
			b.prefix = prefix
		}
	})
}

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return redisOptionFunc(func(b *RedisBackend) {
		b.now = now
	})
}

// NewRedisBackend wraps a connected client.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client, prefix: DefaultRedisPrefix, now: time.Now}
	for _, opt := range opts {
		opt.applyRedis(b)
	}
	return b
}

// OpenRedis connects to a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, url string, opts ...RedisOption) (*RedisBackend, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w: %w", core.ErrBackendUnavailable, err)
	}
	return NewRedisBackend(client, opts...), nil
}

var (
	_ core.Backend    = (*RedisBackend)(nil)
	_ core.FlowStore  = (*RedisBackend)(nil)
	_ core.Discoverer = (*RedisBackend)(nil)
	_ core.Queue      = (*RedisQueue)(nil)
	_ core.TimeIndex  = (*RedisQueue)(nil)
)

func (b *RedisBackend) queuesKey() string { return b.prefix + ":queues" }

// Queue returns a handle to the named queue.
func (b *RedisBackend) Queue(name string) (core.Queue, error) {
	return b.RedisQueue(name), nil
}

// RedisQueue is Queue with the concrete type, for seeding.
func (b *RedisBackend) RedisQueue(name string) *RedisQueue {
	return &RedisQueue{b: b, name: name}
}

// QueueNames lists every queue registered in the queues set.
func (b *RedisBackend) QueueNames(ctx context.Context) ([]string, error) {
	names, err := b.client.SMembers(ctx, b.queuesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ParentRef reads the structured parent fields, then the parent key.
func (b *RedisBackend) ParentRef(job *core.Job) (core.JobRef, bool) {
	return core.DefaultParentRef(job)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// AddFlow writes the root and every descendant in one MULTI/EXEC.
func (b *RedisBackend) AddFlow(ctx context.Context, spec core.FlowSpec) (*core.Job, error) {
	var root *core.Job
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		root = b.writeFlow(ctx, pipe, spec, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (b *RedisBackend) writeFlow(ctx context.Context, pipe redis.Pipeliner, spec core.FlowSpec, parent *core.Job) *core.Job {
	status := core.StatusWaiting
	if len(spec.Children) > 0 {
		status = core.StatusWaitingChildren
	}
	q := b.RedisQueue(spec.Queue)
	job := q.newJob(spec.Name, spec.Data, spec.Opts, status)
	if parent != nil {
		job.Parent = &core.JobRef{Queue: parent.Queue, ID: parent.ID}
		job.ParentKey = b.prefix + ":" + parent.Queue + ":" + parent.ID
	}
	q.write(ctx, pipe, job)
	for _, child := range spec.Children {
		b.writeFlow(ctx, pipe, child, job)
	}
	return job
}

// Tree returns the job at queue/id with all descendants.
func (b *RedisBackend) Tree(ctx context.Context, queue, id string) (*core.Tree, error) {
	q := b.RedisQueue(queue)
	job, err := q.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.subtree(ctx, q, job)
}

func (b *RedisBackend) subtree(ctx context.Context, q *RedisQueue, job *core.Job) (*core.Tree, error) {
	t := &core.Tree{Job: job}
	members, err := b.client.SMembers(ctx, q.childrenKey(job.ID)).Result()
	if err != nil {
		return nil, err
	}
	var children []*core.Job
	for _, m := range members {
		cq, cid, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		c, err := b.RedisQueue(cq).Job(ctx, cid)
		if errors.Is(err, core.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		if !children[i].CreatedAt.Equal(children[j].CreatedAt) {
			return children[i].CreatedAt.Before(children[j].CreatedAt)
		}
		return children[i].ID < children[j].ID
	})
	for _, c := range children {
		ct, err := b.subtree(ctx, b.RedisQueue(c.Queue), c)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, ct)
	}
	return t, nil
}

// RedisQueue is a single queue inside a RedisBackend.
type RedisQueue struct {
	b    *RedisBackend
	name string
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) key(suffix string) string {
	return q.b.prefix + ":" + q.name + ":" + suffix
}

func (q *RedisQueue) jobKey(id string) string           { return q.key("job:" + id) }
func (q *RedisQueue) childrenKey(id string) string      { return q.key("job:" + id + ":children") }
func (q *RedisQueue) bucketKey(st core.JobStatus) string { return q.key(string(st)) }
func (q *RedisQueue) metaKey() string                    { return q.key("meta") }
func (q *RedisQueue) repeatKey() string                  { return q.key("repeat") }
func (q *RedisQueue) repeatItemKey(k string) string      { return q.key("repeat:" + k) }

func (q *RedisQueue) notFound(id string) error {
	return fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, q.name, id)
}

func (q *RedisQueue) newJob(name string, data json.RawMessage, opts core.JobOptions, status core.JobStatus) *core.Job {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return &core.Job{
		ID:        uuid.New().String(),
		Queue:     q.name,
		Name:      name,
		Data:      data,
		Opts:      opts,
		Status:    status,
		CreatedAt: q.b.now(),
		Delay:     opts.Delay,
	}
}

// score orders a job inside its bucket; larger is newer.
func score(j *core.Job) float64 {
	switch j.Status {
	case core.StatusCompleted, core.StatusFailed:
		if j.FinishedAt != nil {
			return float64(j.FinishedAt.UnixMilli())
		}
	case core.StatusDelayed:
		return float64(j.CreatedAt.Add(j.Delay).UnixMilli())
	}
	return float64(j.CreatedAt.UnixMilli())
}

// write queues the commands that store job and index it.
func (q *RedisQueue) write(ctx context.Context, pipe redis.Pipeliner, job *core.Job) {
	pipe.HSet(ctx, q.jobKey(job.ID), encodeJob(job))
	pipe.ZAdd(ctx, q.bucketKey(job.Status), redis.Z{Score: score(job), Member: job.ID})
	pipe.SAdd(ctx, q.b.queuesKey(), q.name)
	if ref, ok := core.DefaultParentRef(job); ok {
		parent := q.b.RedisQueue(ref.Queue)
		pipe.SAdd(ctx, parent.childrenKey(ref.ID), q.name+":"+job.ID)
	}
}

func encodeJob(j *core.Job) map[string]any {
	h := map[string]any{
		fieldName:         j.Name,
		fieldData:         string(j.Data),
		fieldStatus:       string(j.Status),
		fieldAttempts:     j.Opts.Attempts,
		fieldPriority:     j.Opts.Priority,
		fieldDelay:        j.Delay.Milliseconds(),
		fieldCreatedAt:    j.CreatedAt.UnixMilli(),
		fieldAttemptsMade: j.AttemptsMade,
	}
	if j.ProcessedAt != nil {
		h[fieldProcessedAt] = j.ProcessedAt.UnixMilli()
	}
	if j.FinishedAt != nil {
		h[fieldFinishedAt] = j.FinishedAt.UnixMilli()
	}
	if len(j.Progress) > 0 {
		h[fieldProgress] = string(j.Progress)
	}
	if j.FailureReason != "" {
		h[fieldFailedReason] = j.FailureReason
	}
	if len(j.Stacktrace) > 0 {
		trace, _ := json.Marshal(j.Stacktrace)
		h[fieldStacktrace] = string(trace)
	}
	if len(j.ReturnValue) > 0 {
		h[fieldReturnValue] = string(j.ReturnValue)
	}
	if j.Parent != nil {
		h[fieldParentQueue] = j.Parent.Queue
		h[fieldParentID] = j.Parent.ID
	}
	if j.ParentKey != "" {
		h[fieldParentKey] = j.ParentKey
	}
	return h
}

func decodeJob(queue, id string, h map[string]string) *core.Job {
	delay := time.Duration(atoi64(h[fieldDelay])) * time.Millisecond
	j := &core.Job{
		ID:            id,
		Queue:         queue,
		Name:          h[fieldName],
		Data:          rawOrNil(h[fieldData]),
		Opts:          core.JobOptions{Attempts: int(atoi64(h[fieldAttempts])), Delay: delay, Priority: int(atoi64(h[fieldPriority]))},
		Status:        core.JobStatus(h[fieldStatus]),
		CreatedAt:     time.UnixMilli(atoi64(h[fieldCreatedAt])),
		ProcessedAt:   msTime(h[fieldProcessedAt]),
		FinishedAt:    msTime(h[fieldFinishedAt]),
		Delay:         delay,
		AttemptsMade:  int(atoi64(h[fieldAttemptsMade])),
		Progress:      rawOrNil(h[fieldProgress]),
		FailureReason: h[fieldFailedReason],
		ReturnValue:   rawOrNil(h[fieldReturnValue]),
		ParentKey:     h[fieldParentKey],
	}
	if s := h[fieldStacktrace]; s != "" {
		_ = json.Unmarshal([]byte(s), &j.Stacktrace)
	}
	if pid := h[fieldParentID]; pid != "" {
		j.Parent = &core.JobRef{Queue: h[fieldParentQueue], ID: pid}
	}
	return j
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func msTime(s string) *time.Time {
	ms := atoi64(s)
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func msArg(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// promoteDue moves delayed jobs whose run time has passed to waiting.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	due, err := q.b.client.ZRangeByScoreWithScores(ctx, q.bucketKey(core.StatusDelayed), &redis.ZRangeBy{
		Min: "-inf",
		Max: msArg(q.b.now()),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}
	_, err = q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, z := range due {
			id, _ := z.Member.(string)
			pipe.ZRem(ctx, q.bucketKey(core.StatusDelayed), id)
			pipe.ZAdd(ctx, q.bucketKey(core.StatusWaiting), redis.Z{Score: z.Score, Member: id})
			pipe.HSet(ctx, q.jobKey(id), fieldStatus, string(core.StatusWaiting))
		}
		return nil
	})
	return err
}

// fetch loads hashes for ids in one pipeline, skipping missing ones.
func (q *RedisQueue) fetch(ctx context.Context, ids []string) ([]*core.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := q.b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*core.Job, 0, len(ids))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		out = append(out, decodeJob(q.name, ids[i], h))
	}
	return out, nil
}

// Put stores job as given, keeping its id, status and timestamps. Used to
// seed fixtures.
func (q *RedisQueue) Put(ctx context.Context, job *core.Job) error {
	j := *job
	j.Queue = q.name
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = q.b.now()
	}
	if j.Status == "" {
		j.Status = core.InferStatus(&j, q.b.now())
	}
	_, err := q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		q.write(ctx, pipe, &j)
		return nil
	})
	return err
}

// AddRepeatable registers a repeat descriptor scored by its next run.
func (q *RedisQueue) AddRepeatable(ctx context.Context, r core.RepeatableJob) error {
	if r.Key == "" {
		r.Key = fmt.Sprintf("%s:%s:%s:%d", r.Name, r.Pattern, r.TZ, r.Every)
	}
	var next float64
	if r.Next != nil {
		next = float64(r.Next.UnixMilli())
	} else if t, err := schedule.NextRun(r.Pattern, time.Duration(r.Every)*time.Millisecond, r.TZ, q.b.now()); err == nil {
		next = float64(t.UnixMilli())
	}
	h := map[string]any{
		"name":    r.Name,
		"pattern": r.Pattern,
		"every":   r.Every,
		"tz":      r.TZ,
	}
	if r.EndDate != nil {
		h["endDate"] = r.EndDate.UnixMilli()
	}
	_, err := q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.repeatKey(), redis.Z{Score: next, Member: r.Key})
		pipe.HSet(ctx, q.repeatItemKey(r.Key), h)
		pipe.SAdd(ctx, q.b.queuesKey(), q.name)
		return nil
	})
	return err
}

func (q *RedisQueue) Counts(ctx context.Context) (core.Counts, error) {
	if err := q.promoteDue(ctx); err != nil {
		return core.Counts{}, err
	}
	cmds := make(map[core.JobStatus]*redis.IntCmd, len(bucketStatuses))
	_, err := q.b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range bucketStatuses {
			cmds[st] = pipe.ZCard(ctx, q.bucketKey(st))
		}
		return nil
	})
	if err != nil {
		return core.Counts{}, err
	}
	return core.Counts{
		Waiting:         cmds[core.StatusWaiting].Val(),
		Active:          cmds[core.StatusActive].Val(),
		Completed:       cmds[core.StatusCompleted].Val(),
		Failed:          cmds[core.StatusFailed].Val(),
		Delayed:         cmds[core.StatusDelayed].Val(),
		Paused:          cmds[core.StatusPaused].Val(),
		WaitingChildren: cmds[core.StatusWaitingChildren].Val(),
	}, nil
}

func (q *RedisQueue) IsPaused(ctx context.Context) (bool, error) {
	v, err := q.b.client.HGet(ctx, q.metaKey(), "paused").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (q *RedisQueue) Pause(ctx context.Context) error {
	return q.setPaused(ctx, "1")
}

func (q *RedisQueue) Resume(ctx context.Context) error {
	return q.setPaused(ctx, "0")
}

func (q *RedisQueue) setPaused(ctx context.Context, v string) error {
	_, err := q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.metaKey(), "paused", v)
		pipe.SAdd(ctx, q.b.queuesKey(), q.name)
		return nil
	})
	return err
}

func (q *RedisQueue) Jobs(ctx context.Context, statuses []core.JobStatus, start, end int, asc bool) ([]*core.Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = -1
	}
	var out []*core.Job
	for _, st := range statuses {
		if end >= 0 && end < start {
			continue
		}
		var ids []string
		var err error
		if asc {
			ids, err = q.b.client.ZRange(ctx, q.bucketKey(st), int64(start), int64(end)).Result()
		} else {
			ids, err = q.b.client.ZRevRange(ctx, q.bucketKey(st), int64(start), int64(end)).Result()
		}
		if err != nil {
			return nil, err
		}
		jobs, err := q.fetch(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			j.Status = st
		}
		out = append(out, jobs...)
	}
	return out, nil
}

func (q *RedisQueue) Job(ctx context.Context, id string) (*core.Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	h, err := q.b.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, q.notFound(id)
	}
	return decodeJob(q.name, id, h), nil
}

func (q *RedisQueue) JobsByID(ctx context.Context, ids []string) ([]*core.Job, error) {
	jobs, err := q.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	return jobs, nil
}

func (q *RedisQueue) State(ctx context.Context, id string) (core.JobStatus, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return core.StatusUnknown, err
	}
	return job.Status, nil
}

// RangeByScore reads the completed and failed sets by finish time.
func (q *RedisQueue) RangeByScore(ctx context.Context, status core.JobStatus, start, end time.Time, limit int) ([]string, bool, error) {
	if !status.Terminal() {
		return nil, false, nil
	}
	by := &redis.ZRangeBy{Min: msArg(start), Max: msArg(end)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := q.b.client.ZRevRangeByScore(ctx, q.bucketKey(status), by).Result()
	if err != nil {
		return nil, true, err
	}
	return ids, true, nil
}

func (q *RedisQueue) Add(ctx context.Context, name string, data json.RawMessage, opts core.JobOptions) (*core.Job, error) {
	status := core.StatusWaiting
	if opts.Delay > 0 {
		status = core.StatusDelayed
	}
	job := q.newJob(name, data, opts, status)
	_, err := q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		q.write(ctx, pipe, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// transition moves a job from one bucket to waiting under WATCH, so a
// concurrent change to the job aborts the move.
func (q *RedisQueue) transition(ctx context.Context, id, action string, from core.JobStatus, set map[string]any, del ...string) error {
	jobKey := q.jobKey(id)
	return q.b.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, jobKey, fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			return q.notFound(id)
		}
		if err != nil {
			return err
		}
		if core.JobStatus(current) != from {
			return &core.TransitionError{Action: action, Status: core.JobStatus(current)}
		}
		set[fieldStatus] = string(core.StatusWaiting)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, q.bucketKey(from), id)
			pipe.ZAdd(ctx, q.bucketKey(core.StatusWaiting), redis.Z{Score: float64(q.b.now().UnixMilli()), Member: id})
			pipe.HSet(ctx, jobKey, set)
			if len(del) > 0 {
				pipe.HDel(ctx, jobKey, del...)
			}
			return nil
		})
		return err
	}, jobKey)
}

// Retry moves a failed job back to waiting.
func (q *RedisQueue) Retry(ctx context.Context, id string) error {
	return q.transition(ctx, id, "retry", core.StatusFailed,
		map[string]any{fieldAttemptsMade: 0},
		fieldProcessedAt, fieldFinishedAt, fieldFailedReason, fieldStacktrace)
}

// Promote moves a delayed job to waiting immediately.
func (q *RedisQueue) Promote(ctx context.Context, id string) error {
	return q.transition(ctx, id, "promote", core.StatusDelayed, map[string]any{fieldDelay: 0})
}

func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	jobKey := q.jobKey(id)
	st, err := q.b.client.HGet(ctx, jobKey, fieldStatus).Result()
	if errors.Is(err, redis.Nil) {
		return q.notFound(id)
	}
	if err != nil {
		return err
	}
	_, err = q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.bucketKey(core.JobStatus(st)), id)
		pipe.Del(ctx, jobKey, q.childrenKey(id))
		return nil
	})
	return err
}

func (q *RedisQueue) Clean(ctx context.Context, grace time.Duration, limit int, status core.JobStatus) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: msArg(q.b.now().Add(-grace))}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := q.b.client.ZRangeByScore(ctx, q.bucketKey(status), by).Result()
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	_, err = q.b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.ZRem(ctx, q.bucketKey(status), id)
			pipe.Del(ctx, q.jobKey(id), q.childrenKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *RedisQueue) Repeatables(ctx context.Context) ([]core.RepeatableJob, error) {
	entries, err := q.b.client.ZRangeWithScores(ctx, q.repeatKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	cmds := make([]*redis.MapStringStringCmd, len(entries))
	_, err = q.b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, z := range entries {
			key, _ := z.Member.(string)
			cmds[i] = pipe.HGetAll(ctx, q.repeatItemKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.RepeatableJob, 0, len(entries))
	for i, z := range entries {
		key, _ := z.Member.(string)
		h := cmds[i].Val()
		r := core.RepeatableJob{
			Key:     key,
			Name:    h["name"],
			Queue:   q.name,
			Pattern: h["pattern"],
			Every:   atoi64(h["every"]),
			TZ:      h["tz"],
			EndDate: msTime(h["endDate"]),
		}
		if z.Score > 0 {
			next := time.UnixMilli(int64(z.Score))
			r.Next = &next
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
