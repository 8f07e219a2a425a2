package core

import (
	"encoding/json"
	"strings"
	"time"
)

// TagSet maps configured payload fields to their scalar values.
type TagSet map[string]any

// JobInfo is the outward projection of a Job. Times are epoch milliseconds.
type JobInfo struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	QueueName    string          `json:"queueName"`
	Data         json.RawMessage `json:"data"`
	Opts         OptsInfo        `json:"opts"`
	Status       JobStatus       `json:"status"`
	Progress     json.RawMessage `json:"progress"`
	AttemptsMade int             `json:"attemptsMade"`
	Timestamp    int64           `json:"timestamp"`
	ProcessedOn  *int64          `json:"processedOn,omitempty"`
	FinishedOn   *int64          `json:"finishedOn,omitempty"`
	Delay        int64           `json:"delay,omitempty"`
	Duration     *int64          `json:"duration,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	Stacktrace   []string        `json:"stacktrace,omitempty"`
	ReturnValue  json.RawMessage `json:"returnvalue,omitempty"`
	Tags         TagSet          `json:"tags,omitempty"`
	Parent       *JobRef         `json:"parent,omitempty"`
}

// OptsInfo is JobOptions with the delay in milliseconds.
type OptsInfo struct {
	Attempts int   `json:"attempts,omitempty"`
	Delay    int64 `json:"delay,omitempty"`
	Priority int   `json:"priority,omitempty"`
}

var zeroProgress = json.RawMessage("0")

// NewJobInfo converts job using an already resolved status.
func NewJobInfo(job *Job, status JobStatus, tagFields []string, pr ParentResolver) JobInfo {
	info := JobInfo{
		ID:           job.ID,
		Name:         job.Name,
		QueueName:    job.Queue,
		Data:         job.Data,
		Status:       status,
		Progress:     normalizeProgress(job.Progress),
		AttemptsMade: job.AttemptsMade,
		Timestamp:    job.CreatedAt.UnixMilli(),
		ProcessedOn:  millis(job.ProcessedAt),
		FinishedOn:   millis(job.FinishedAt),
		Delay:        job.Delay.Milliseconds(),
		FailedReason: job.FailureReason,
		Stacktrace:   job.Stacktrace,
		ReturnValue:  job.ReturnValue,
		Tags:         ExtractTags(job.Data, tagFields),
		Opts: OptsInfo{
			Attempts: job.Opts.Attempts,
			Delay:    job.Opts.Delay.Milliseconds(),
			Priority: job.Opts.Priority,
		},
	}
	if len(info.Data) == 0 {
		info.Data = json.RawMessage("{}")
	}
	if d, ok := job.Duration(); ok {
		ms := d.Milliseconds()
		info.Duration = &ms
	}
	if pr != nil {
		if ref, ok := pr.ParentRef(job); ok {
			info.Parent = &ref
		}
	}
	return info
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// normalizeProgress keeps numbers and objects and maps everything else to 0.
func normalizeProgress(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return zeroProgress
	}
	switch trimmed[0] {
	case '{':
		return raw
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return raw
	}
	return zeroProgress
}

// ExtractTags reads the configured fields from a JSON object payload. Only
// scalar values are kept.
func ExtractTags(data json.RawMessage, fields []string) TagSet {
	if len(fields) == 0 || len(data) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	tags := make(TagSet)
	for _, f := range fields {
		v, ok := obj[f]
		if !ok {
			continue
		}
		switch v.(type) {
		case string, float64, bool, nil:
			tags[f] = v
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// TagString renders a scalar tag value the way filters compare it.
func TagString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// DefaultParentRef reads the structured reference first and falls back to a
// colon-delimited "prefix:queue:id" key.
func DefaultParentRef(job *Job) (JobRef, bool) {
	if job.Parent != nil && job.Parent.ID != "" {
		return *job.Parent, true
	}
	if job.ParentKey == "" {
		return JobRef{}, false
	}
	parts := strings.Split(job.ParentKey, ":")
	if len(parts) < 2 {
		return JobRef{}, false
	}
	ref := JobRef{Queue: parts[len(parts)-2], ID: parts[len(parts)-1]}
	if ref.ID == "" || ref.Queue == "" {
		return JobRef{}, false
	}
	return ref, true
}

// InferStatus guesses a job's bucket from its own fields.
func InferStatus(job *Job, now time.Time) JobStatus {
	switch {
	case job.FinishedAt != nil && job.FailureReason != "":
		return StatusFailed
	case job.FinishedAt != nil:
		return StatusCompleted
	case job.ProcessedAt != nil:
		return StatusActive
	case job.Delay > 0 && job.CreatedAt.Add(job.Delay).After(now):
		return StatusDelayed
	}
	return StatusWaiting
}

// TotalUnknown marks a page whose total was deliberately not counted.
const TotalUnknown int64 = -1

// Page is one slice of a paginated listing.
type Page struct {
	Data    []JobInfo `json:"data"`
	Total   int64     `json:"total"`
	HasMore bool      `json:"hasMore"`
	Cursor  string    `json:"cursor,omitempty"`
}
