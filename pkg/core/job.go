// Package core provides the domain models and interfaces for the workbench.
package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the bucket a job currently sits in.
type JobStatus string

const (
	StatusWaiting         JobStatus = "waiting"
	StatusActive          JobStatus = "active"
	StatusCompleted       JobStatus = "completed"
	StatusFailed          JobStatus = "failed"
	StatusDelayed         JobStatus = "delayed"
	StatusPaused          JobStatus = "paused"
	StatusWaitingChildren JobStatus = "waiting-children" // Parent waiting on its flow children
	StatusUnknown         JobStatus = "unknown"
)

// ListStatuses are the buckets scanned when a listing is not narrowed to one status.
var ListStatuses = []JobStatus{
	StatusWaiting,
	StatusActive,
	StatusCompleted,
	StatusFailed,
	StatusDelayed,
	StatusPaused,
}

// Valid reports whether s names a known bucket.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed,
		StatusDelayed, StatusPaused, StatusWaitingChildren:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRef identifies a job across queues.
type JobRef struct {
	Queue string `json:"queueName"`
	ID    string `json:"jobId"`
}

// JobOptions are the enqueue options a job was created with.
type JobOptions struct {
	Attempts int
	Delay    time.Duration
	Priority int
}

// Job is a backend job record as seen by the workbench.
type Job struct {
	ID    string
	Queue string
	Name  string
	Data  json.RawMessage
	Opts  JobOptions

	// Status is the bucket the binding read the job from. Empty when unknown.
	Status JobStatus

	CreatedAt   time.Time
	ProcessedAt *time.Time
	FinishedAt  *time.Time
	Delay       time.Duration

	AttemptsMade  int
	Progress      json.RawMessage
	FailureReason string
	Stacktrace    []string
	ReturnValue   json.RawMessage

	// Parent linkage. Bindings fill one or both; read it through a ParentResolver.
	Parent    *JobRef
	ParentKey string
}

// Ref returns the job's cross-queue reference.
func (j *Job) Ref() JobRef {
	return JobRef{Queue: j.Queue, ID: j.ID}
}

// Duration returns finishedAt - processedAt when both are set.
func (j *Job) Duration() (time.Duration, bool) {
	if j.ProcessedAt == nil || j.FinishedAt == nil {
		return 0, false
	}
	return j.FinishedAt.Sub(*j.ProcessedAt), true
}

// WaitTime returns processedAt - createdAt when the job has been picked up.
func (j *Job) WaitTime() (time.Duration, bool) {
	if j.ProcessedAt == nil {
		return 0, false
	}
	return j.ProcessedAt.Sub(j.CreatedAt), true
}

// Counts holds per-status job counts for one queue.
type Counts struct {
	Waiting         int64 `json:"waiting"`
	Active          int64 `json:"active"`
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	Delayed         int64 `json:"delayed"`
	Paused          int64 `json:"paused"`
	WaitingChildren int64 `json:"waitingChildren"`
}

// Total sums every bucket.
func (c Counts) Total() int64 {
	return c.Waiting + c.Active + c.Completed + c.Failed + c.Delayed + c.Paused + c.WaitingChildren
}

// Of returns the count for one status.
func (c Counts) Of(s JobStatus) int64 {
	switch s {
	case StatusWaiting:
		return c.Waiting
	case StatusActive:
		return c.Active
	case StatusCompleted:
		return c.Completed
	case StatusFailed:
		return c.Failed
	case StatusDelayed:
		return c.Delayed
	case StatusPaused:
		return c.Paused
	case StatusWaitingChildren:
		return c.WaitingChildren
	}
	return 0
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Waiting:         c.Waiting + o.Waiting,
		Active:          c.Active + o.Active,
		Completed:       c.Completed + o.Completed,
		Failed:          c.Failed + o.Failed,
		Delayed:         c.Delayed + o.Delayed,
		Paused:          c.Paused + o.Paused,
		WaitingChildren: c.WaitingChildren + o.WaitingChildren,
	}
}

// RepeatableJob is a backend repeat descriptor.
type RepeatableJob struct {
	Key     string     `json:"key"`
	Name    string     `json:"name"`
	Queue   string     `json:"queueName"`
	Pattern string     `json:"pattern,omitempty"`
	Every   int64      `json:"every,omitempty"` // milliseconds
	Next    *time.Time `json:"-"`
	EndDate *time.Time `json:"-"`
	TZ      string     `json:"tz,omitempty"`
}

// FlowSpec describes a job and its nested children for atomic submission.
type FlowSpec struct {
	Name     string          `json:"name"`
	Queue    string          `json:"queueName"`
	Data     json.RawMessage `json:"data,omitempty"`
	Opts     JobOptions      `json:"-"`
	Children []FlowSpec      `json:"children,omitempty"`
}

// Tree is a job together with the jobs it spawned.
type Tree struct {
	Job      *Job
	Children []*Tree
}
