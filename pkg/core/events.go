package core

import "time"

// Event is the interface for all operator mutation events.
type Event interface {
	eventMarker()
}

// JobEnqueued is emitted when a test job is added from the dashboard.
type JobEnqueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobEnqueued) eventMarker() {}

// JobActioned is emitted after a single-job retry, remove or promote.
type JobActioned struct {
	Action    string
	Ref       JobRef
	OK        bool
	Timestamp time.Time
}

func (*JobActioned) eventMarker() {}

// BulkApplied is emitted when a bulk mutation completes.
type BulkApplied struct {
	Action    string
	Success   int
	Failed    int
	Timestamp time.Time
}

func (*BulkApplied) eventMarker() {}

// QueueCleaned is emitted after finished jobs are purged from a queue.
type QueueCleaned struct {
	Queue     string
	Status    JobStatus
	Removed   int
	Timestamp time.Time
}

func (*QueueCleaned) eventMarker() {}

// QueuePaused is emitted when a queue is paused.
type QueuePaused struct {
	Queue     string
	Timestamp time.Time
}

func (*QueuePaused) eventMarker() {}

// QueueResumed is emitted when a queue is resumed.
type QueueResumed struct {
	Queue     string
	Timestamp time.Time
}

func (*QueueResumed) eventMarker() {}

// FlowCreated is emitted when a flow graph has been submitted.
type FlowCreated struct {
	Root      JobRef
	Timestamp time.Time
}

func (*FlowCreated) eventMarker() {}
