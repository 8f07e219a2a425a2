package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/schedule"
	"github.com/jdziat/queue-workbench/pkg/security"
)

// jobRecord is the row layout of the jobs table.
type jobRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	Queue         string `gorm:"size:255;not null;index:idx_jobs_queue_status,priority:1;index:idx_jobs_finished,priority:1"`
	Status        string `gorm:"size:32;not null;index:idx_jobs_queue_status,priority:2;index:idx_jobs_finished,priority:2"`
	Name          string `gorm:"size:255;not null"`
	Data          datatypes.JSON
	Attempts      int
	Priority      int
	DelayMS       int64
	RunAt         *time.Time `gorm:"index"`
	AttemptsMade  int
	Progress      datatypes.JSON
	FailureReason string `gorm:"type:text"`
	Stacktrace    datatypes.JSON
	ReturnValue   datatypes.JSON
	ParentQueue   string `gorm:"size:255;index:idx_jobs_parent,priority:1"`
	ParentID      string `gorm:"size:36;index:idx_jobs_parent,priority:2"`
	CreatedAt     time.Time `gorm:"index"`
	ProcessedAt   *time.Time
	FinishedAt    *time.Time `gorm:"index:idx_jobs_finished,priority:3"`
}

func (jobRecord) TableName() string { return "jobs" }

func (r *jobRecord) toJob() *core.Job {
	delay := time.Duration(r.DelayMS) * time.Millisecond
	j := &core.Job{
		ID:            r.ID,
		Queue:         r.Queue,
		Name:          r.Name,
		Data:          json.RawMessage(r.Data),
		Opts:          core.JobOptions{Attempts: r.Attempts, Delay: delay, Priority: r.Priority},
		Status:        core.JobStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
		FinishedAt:    r.FinishedAt,
		Delay:         delay,
		AttemptsMade:  r.AttemptsMade,
		Progress:      json.RawMessage(r.Progress),
		FailureReason: r.FailureReason,
		ReturnValue:   json.RawMessage(r.ReturnValue),
	}
	if len(r.Stacktrace) > 0 {
		_ = json.Unmarshal(r.Stacktrace, &j.Stacktrace)
	}
	if r.ParentID != "" {
		j.Parent = &core.JobRef{Queue: r.ParentQueue, ID: r.ParentID}
	}
	return j
}

func recordFromJob(job *core.Job) *jobRecord {
	r := &jobRecord{
		ID:            job.ID,
		Queue:         job.Queue,
		Status:        string(job.Status),
		Name:          job.Name,
		Data:          datatypes.JSON(job.Data),
		Attempts:      job.Opts.Attempts,
		Priority:      job.Opts.Priority,
		DelayMS:       job.Delay.Milliseconds(),
		AttemptsMade:  job.AttemptsMade,
		Progress:      datatypes.JSON(job.Progress),
		FailureReason: job.FailureReason,
		ReturnValue:   datatypes.JSON(job.ReturnValue),
		CreatedAt:     job.CreatedAt.UTC(),
		ProcessedAt:   utcPtr(job.ProcessedAt),
		FinishedAt:    utcPtr(job.FinishedAt),
	}
	if job.Delay > 0 {
		runAt := r.CreatedAt.Add(job.Delay)
		r.RunAt = &runAt
	}
	if len(job.Stacktrace) > 0 {
		r.Stacktrace, _ = json.Marshal(job.Stacktrace)
	}
	if ref, ok := core.DefaultParentRef(job); ok {
		r.ParentQueue, r.ParentID = ref.Queue, ref.ID
	}
	return r
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// queueState holds per-queue flags.
type queueState struct {
	Queue     string `gorm:"primaryKey;size:255"`
	Paused    bool
	UpdatedAt time.Time
}

func (queueState) TableName() string { return "queue_states" }

// repeatableRecord is the row layout of the repeatable_jobs table.
type repeatableRecord struct {
	Queue     string `gorm:"primaryKey;size:255"`
	Key       string `gorm:"column:repeat_key;primaryKey;size:512"`
	Name      string `gorm:"size:255;not null"`
	Pattern   string `gorm:"size:255"`
	EveryMS   int64
	TZ        string `gorm:"size:64"`
	NextRunAt *time.Time
	EndDate   *time.Time
}

func (repeatableRecord) TableName() string { return "repeatable_jobs" }

// GormBackend stores queues in a SQL database through GORM.
type GormBackend struct {
	db  *gorm.DB
	now func() time.Time
}

// GormOption configures a GormBackend.
type GormOption interface {
	applyGorm(*GormBackend)
}

type gormOptionFunc func(*GormBackend)

func (f gormOptionFunc) applyGorm(b *GormBackend) { f(b) }

// WithGormClock overrides the time source.
func WithGormClock(now func() time.Time) GormOption {
	return gormOptionFunc(func(b *GormBackend) {
		b.now = now
	})
}

// NewGormBackend wraps an open database. Call Migrate before first use.
func NewGormBackend(db *gorm.DB, opts ...GormOption) *GormBackend {
	b := &GormBackend{db: db, now: time.Now}
	for _, opt := range opts {
		opt.applyGorm(b)
	}
	return b
}

// OpenGorm opens a sqlite or postgres database, configures its pool and
// migrates the schema.
func OpenGorm(ctx context.Context, driver, dsn string, opts ...PoolOption) (*GormBackend, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	b, err := NewGormBackendWithPool(db, opts...)
	if err != nil {
		return nil, err
	}
	if err := b.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return b, nil
}

var (
	_ core.Backend    = (*GormBackend)(nil)
	_ core.FlowStore  = (*GormBackend)(nil)
	_ core.Discoverer = (*GormBackend)(nil)
	_ core.Queue      = (*GormQueue)(nil)
	_ core.TimeIndex  = (*GormQueue)(nil)
)

// DB returns the underlying database handle.
func (b *GormBackend) DB() *gorm.DB { return b.db }

// IsSQLite reports whether the database is SQLite.
func (b *GormBackend) IsSQLite() bool {
	return b.db != nil && b.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (b *GormBackend) Migrate(ctx context.Context) error {
	return b.db.WithContext(ctx).AutoMigrate(&jobRecord{}, &queueState{}, &repeatableRecord{})
}

// Queue returns a handle to the named queue. Queues exist implicitly.
func (b *GormBackend) Queue(name string) (core.Queue, error) {
	return b.GormQueue(name), nil
}

// GormQueue is Queue with the concrete type, for seeding and worker calls.
func (b *GormBackend) GormQueue(name string) *GormQueue {
	return &GormQueue{b: b, name: name}
}

// QueueNames lists every queue that has jobs, state or repeatables.
func (b *GormBackend) QueueNames(ctx context.Context) ([]string, error) {
	db := b.db.WithContext(ctx)
	seen := make(map[string]struct{})
	for _, model := range []any{&jobRecord{}, &queueState{}, &repeatableRecord{}} {
		var names []string
		if err := db.Model(model).Distinct("queue").Pluck("queue", &names).Error; err != nil {
			return nil, err
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// ParentRef reads the parent columns.
func (b *GormBackend) ParentRef(job *core.Job) (core.JobRef, bool) {
	return core.DefaultParentRef(job)
}

// Close closes the underlying connection pool.
func (b *GormBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AddFlow inserts the root and every descendant in one transaction.
func (b *GormBackend) AddFlow(ctx context.Context, spec core.FlowSpec) (*core.Job, error) {
	var root *jobRecord
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		root, err = b.insertFlow(tx, spec, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return root.toJob(), nil
}

func (b *GormBackend) insertFlow(tx *gorm.DB, spec core.FlowSpec, parent *jobRecord) (*jobRecord, error) {
	status := core.StatusWaiting
	if len(spec.Children) > 0 {
		status = core.StatusWaitingChildren
	}
	rec := b.newRecord(spec.Queue, spec.Name, spec.Data, spec.Opts, status)
	if parent != nil {
		rec.ParentQueue, rec.ParentID = parent.Queue, parent.ID
	}
	if err := tx.Create(rec).Error; err != nil {
		return nil, err
	}
	for _, child := range spec.Children {
		if _, err := b.insertFlow(tx, child, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Tree returns the job at queue/id with all descendants.
func (b *GormBackend) Tree(ctx context.Context, queue, id string) (*core.Tree, error) {
	db := b.db.WithContext(ctx)
	var rec jobRecord
	err := db.Where("queue = ? AND id = ?", queue, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, queue, id)
	}
	if err != nil {
		return nil, err
	}
	return b.subtree(db, &rec)
}

func (b *GormBackend) subtree(db *gorm.DB, rec *jobRecord) (*core.Tree, error) {
	t := &core.Tree{Job: rec.toJob()}
	var children []jobRecord
	err := db.Where("parent_queue = ? AND parent_id = ?", rec.Queue, rec.ID).
		Order("created_at ASC, id ASC").
		Find(&children).Error
	if err != nil {
		return nil, err
	}
	for i := range children {
		ct, err := b.subtree(db, &children[i])
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, ct)
	}
	return t, nil
}

func (b *GormBackend) newRecord(queue, name string, data json.RawMessage, opts core.JobOptions, status core.JobStatus) *jobRecord {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	now := b.now().UTC()
	rec := &jobRecord{
		ID:        uuid.New().String(),
		Queue:     queue,
		Status:    string(status),
		Name:      name,
		Data:      datatypes.JSON(data),
		Attempts:  opts.Attempts,
		Priority:  opts.Priority,
		DelayMS:   opts.Delay.Milliseconds(),
		CreatedAt: now,
	}
	if opts.Delay > 0 {
		runAt := now.Add(opts.Delay)
		rec.RunAt = &runAt
	}
	return rec
}

// orderColumn is the column a bucket is ordered by; larger is newer.
func orderColumn(status core.JobStatus) string {
	switch status {
	case core.StatusCompleted, core.StatusFailed:
		return "finished_at"
	case core.StatusDelayed:
		return "run_at"
	}
	return "created_at"
}

// GormQueue is a single queue inside a GormBackend.
type GormQueue struct {
	b    *GormBackend
	name string
}

func (q *GormQueue) Name() string { return q.name }

func (q *GormQueue) db(ctx context.Context) *gorm.DB {
	return q.b.db.WithContext(ctx)
}

func (q *GormQueue) notFound(id string) error {
	return fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, q.name, id)
}

// promoteDue moves delayed jobs whose run time has passed to waiting.
func (q *GormQueue) promoteDue(db *gorm.DB) error {
	return db.Model(&jobRecord{}).
		Where("queue = ? AND status = ? AND run_at <= ?", q.name, core.StatusDelayed, q.b.now().UTC()).
		Update("status", core.StatusWaiting).Error
}

// Put stores job as given, keeping its id, status and timestamps. Used to
// seed fixtures.
func (q *GormQueue) Put(ctx context.Context, job *core.Job) error {
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
	return q.db(ctx).Create(recordFromJob(&j)).Error
}

// AddRepeatable registers a repeat descriptor, computing Next when unset.
func (q *GormQueue) AddRepeatable(ctx context.Context, r core.RepeatableJob) error {
	if r.Key == "" {
		r.Key = fmt.Sprintf("%s:%s:%s:%d", r.Name, r.Pattern, r.TZ, r.Every)
	}
	if r.Next == nil {
		if next, err := schedule.NextRun(r.Pattern, time.Duration(r.Every)*time.Millisecond, r.TZ, q.b.now()); err == nil {
			r.Next = &next
		}
	}
	rec := repeatableRecord{
		Queue:     q.name,
		Key:       r.Key,
		Name:      r.Name,
		Pattern:   r.Pattern,
		EveryMS:   r.Every,
		TZ:        r.TZ,
		NextRunAt: utcPtr(r.Next),
		EndDate:   utcPtr(r.EndDate),
	}
	return q.db(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (q *GormQueue) Counts(ctx context.Context) (core.Counts, error) {
	db := q.db(ctx)
	if err := q.promoteDue(db); err != nil {
		return core.Counts{}, err
	}
	var rows []struct {
		Status string
		N      int64
	}
	err := db.Model(&jobRecord{}).
		Select("status, COUNT(*) AS n").
		Where("queue = ?", q.name).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return core.Counts{}, err
	}
	var c core.Counts
	for _, r := range rows {
		switch core.JobStatus(r.Status) {
		case core.StatusWaiting:
			c.Waiting = r.N
		case core.StatusActive:
			c.Active = r.N
		case core.StatusCompleted:
			c.Completed = r.N
		case core.StatusFailed:
			c.Failed = r.N
		case core.StatusDelayed:
			c.Delayed = r.N
		case core.StatusPaused:
			c.Paused = r.N
		case core.StatusWaitingChildren:
			c.WaitingChildren = r.N
		}
	}
	return c, nil
}

func (q *GormQueue) IsPaused(ctx context.Context) (bool, error) {
	var st queueState
	err := q.db(ctx).Where("queue = ?", q.name).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Paused, nil
}

func (q *GormQueue) Pause(ctx context.Context) error {
	return q.setPaused(ctx, true)
}

func (q *GormQueue) Resume(ctx context.Context) error {
	return q.setPaused(ctx, false)
}

func (q *GormQueue) setPaused(ctx context.Context, paused bool) error {
	st := queueState{Queue: q.name, Paused: paused, UpdatedAt: q.b.now().UTC()}
	return q.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue"}},
		DoUpdates: clause.AssignmentColumns([]string{"paused", "updated_at"}),
	}).Create(&st).Error
}

func (q *GormQueue) Jobs(ctx context.Context, statuses []core.JobStatus, start, end int, asc bool) ([]*core.Job, error) {
	db := q.db(ctx)
	if err := q.promoteDue(db); err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	dir := "DESC"
	if asc {
		dir = "ASC"
	}

	var out []*core.Job
	for _, st := range statuses {
		if end >= 0 && end < start {
			continue
		}
		tx := db.Where("queue = ? AND status = ?", q.name, st).
			Order(fmt.Sprintf("%s %s, id %s", orderColumn(st), dir, dir)).
			Offset(start)
		if end >= 0 {
			tx = tx.Limit(end - start + 1)
		}
		var recs []jobRecord
		if err := tx.Find(&recs).Error; err != nil {
			return nil, err
		}
		for i := range recs {
			out = append(out, recs[i].toJob())
		}
	}
	return out, nil
}

func (q *GormQueue) Job(ctx context.Context, id string) (*core.Job, error) {
	db := q.db(ctx)
	if err := q.promoteDue(db); err != nil {
		return nil, err
	}
	var rec jobRecord
	err := db.Where("queue = ? AND id = ?", q.name, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, q.notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return rec.toJob(), nil
}

func (q *GormQueue) JobsByID(ctx context.Context, ids []string) ([]*core.Job, error) {
	if len(ids) == 0 {
		return []*core.Job{}, nil
	}
	var recs []jobRecord
	if err := q.db(ctx).Where("queue = ? AND id IN ?", q.name, ids).Find(&recs).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*jobRecord, len(recs))
	for i := range recs {
		byID[recs[i].ID] = &recs[i]
	}
	out := make([]*core.Job, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r.toJob())
		}
	}
	return out, nil
}

func (q *GormQueue) State(ctx context.Context, id string) (core.JobStatus, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return core.StatusUnknown, err
	}
	return job.Status, nil
}

// RangeByScore serves completed and failed jobs from the finished_at index.
func (q *GormQueue) RangeByScore(ctx context.Context, status core.JobStatus, start, end time.Time, limit int) ([]string, bool, error) {
	if !status.Terminal() {
		return nil, false, nil
	}
	tx := q.db(ctx).Model(&jobRecord{}).
		Where("queue = ? AND status = ?", q.name, status).
		Where("finished_at >= ? AND finished_at <= ?", start.UTC(), end.UTC()).
		Order("finished_at DESC, id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var ids []string
	if err := tx.Pluck("id", &ids).Error; err != nil {
		return nil, true, err
	}
	return ids, true, nil
}

func (q *GormQueue) Add(ctx context.Context, name string, data json.RawMessage, opts core.JobOptions) (*core.Job, error) {
	status := core.StatusWaiting
	if opts.Delay > 0 {
		status = core.StatusDelayed
	}
	rec := q.b.newRecord(q.name, name, data, opts, status)
	if err := q.db(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec.toJob(), nil
}

// transition applies updates when the job is in status from. Otherwise it
// reports why the job could not move.
func (q *GormQueue) transition(ctx context.Context, id, action string, from core.JobStatus, updates map[string]any) error {
	result := q.db(ctx).Model(&jobRecord{}).
		Where("queue = ? AND id = ? AND status = ?", q.name, id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	st, err := q.State(ctx, id)
	if err != nil {
		return err
	}
	return &core.TransitionError{Action: action, Status: st}
}

// Retry moves a failed job back to waiting.
func (q *GormQueue) Retry(ctx context.Context, id string) error {
	return q.transition(ctx, id, "retry", core.StatusFailed, map[string]any{
		"status":         core.StatusWaiting,
		"processed_at":   nil,
		"finished_at":    nil,
		"failure_reason": "",
		"stacktrace":     nil,
		"attempts_made":  0,
	})
}

func (q *GormQueue) Remove(ctx context.Context, id string) error {
	result := q.db(ctx).Where("queue = ? AND id = ?", q.name, id).Delete(&jobRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return q.notFound(id)
	}
	return nil
}

// Promote moves a delayed job to waiting immediately.
func (q *GormQueue) Promote(ctx context.Context, id string) error {
	return q.transition(ctx, id, "promote", core.StatusDelayed, map[string]any{
		"status":   core.StatusWaiting,
		"delay_ms": 0,
		"run_at":   nil,
	})
}

func (q *GormQueue) Clean(ctx context.Context, grace time.Duration, limit int, status core.JobStatus) ([]string, error) {
	cutoff := q.b.now().Add(-grace).UTC()
	var ids []string
	err := q.db(ctx).Transaction(func(tx *gorm.DB) error {
		sel := tx.Model(&jobRecord{}).
			Where("queue = ? AND status = ?", q.name, status).
			Where("(finished_at IS NOT NULL AND finished_at <= ?) OR (finished_at IS NULL AND created_at <= ?)", cutoff, cutoff).
			Order(fmt.Sprintf("%s ASC, id ASC", orderColumn(status)))
		if limit > 0 {
			sel = sel.Limit(limit)
		}
		if err := sel.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("queue = ? AND id IN ?", q.name, ids).Delete(&jobRecord{}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *GormQueue) Repeatables(ctx context.Context) ([]core.RepeatableJob, error) {
	var recs []repeatableRecord
	if err := q.db(ctx).Where("queue = ?", q.name).Order("repeat_key ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]core.RepeatableJob, 0, len(recs))
	for _, r := range recs {
		rj := core.RepeatableJob{
			Key:     r.Key,
			Name:    r.Name,
			Queue:   r.Queue,
			Pattern: r.Pattern,
			Every:   r.EveryMS,
			Next:    r.NextRunAt,
			EndDate: r.EndDate,
			TZ:      r.TZ,
		}
		if rj.Next == nil {
			if next, err := schedule.NextRun(r.Pattern, time.Duration(r.EveryMS)*time.Millisecond, r.TZ, q.b.now()); err == nil {
				rj.Next = &next
			}
		}
		out = append(out, rj)
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Worker API
// ──────────────────────────────────────────────────────────────────────────────

// Take locks the next waiting job and moves it to active. It returns nil
// when the queue is paused or has nothing waiting.
func (q *GormQueue) Take(ctx context.Context) (*core.Job, error) {
	paused, err := q.IsPaused(ctx)
	if err != nil || paused {
		return nil, err
	}

	var rec jobRecord
	now := q.b.now().UTC()
	err = q.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := q.promoteDue(tx); err != nil {
			return err
		}
		sel := tx.Where("queue = ? AND status = ?", q.name, core.StatusWaiting).
			Order("priority DESC, created_at ASC")
		if !q.b.IsSQLite() {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		result := sel.First(&rec)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		rec.Status = string(core.StatusActive)
		rec.ProcessedAt = &now
		rec.AttemptsMade++
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, nil
	}
	return rec.toJob(), nil
}

// Complete finishes an active job successfully. A parent waiting on its
// children moves to waiting once all of them have completed.
func (q *GormQueue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	return q.finish(ctx, id, map[string]any{
		"status":       core.StatusCompleted,
		"return_value": datatypes.JSON(result),
	})
}

// Fail finishes an active job with reason. The reason is sanitized before
// storage.
func (q *GormQueue) Fail(ctx context.Context, id string, reason string) error {
	reason = security.SanitizeErrorMessage(reason)
	trace, _ := json.Marshal([]string{reason})
	return q.finish(ctx, id, map[string]any{
		"status":         core.StatusFailed,
		"failure_reason": reason,
		"stacktrace":     datatypes.JSON(trace),
	})
}

func (q *GormQueue) finish(ctx context.Context, id string, updates map[string]any) error {
	updates["finished_at"] = q.b.now().UTC()
	return q.db(ctx).Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		err := tx.Where("queue = ? AND id = ?", q.name, id).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return q.notFound(id)
		}
		if err != nil {
			return err
		}
		if core.JobStatus(rec.Status) != core.StatusActive {
			return &core.TransitionError{Action: "finish", Status: core.JobStatus(rec.Status)}
		}
		if err := tx.Model(&rec).Updates(updates).Error; err != nil {
			return err
		}
		if updates["status"] != core.StatusCompleted || rec.ParentID == "" {
			return nil
		}
		return releaseParent(tx, rec.ParentQueue, rec.ParentID)
	})
}

func releaseParent(tx *gorm.DB, queue, id string) error {
	var pending int64
	err := tx.Model(&jobRecord{}).
		Where("parent_queue = ? AND parent_id = ? AND status <> ?", queue, id, core.StatusCompleted).
		Count(&pending).Error
	if err != nil || pending > 0 {
		return err
	}
	return tx.Model(&jobRecord{}).
		Where("queue = ? AND id = ? AND status = ?", queue, id, core.StatusWaitingChildren).
		Update("status", core.StatusWaiting).Error
}
