package runs

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/jdziat/queue-workbench/pkg/core"
)

// TagFilter requires a payload field to contain Value, ignoring case.
type TagFilter struct {
	Field string
	Value string
}

// Filters narrow a listing. The zero value matches everything.
type Filters struct {
	Status core.JobStatus
	Tags   []TagFilter
	Text   string
	Start  *time.Time
	End    *time.Time
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.Status == "" && len(f.Tags) == 0 && strings.TrimSpace(f.Text) == "" && !f.HasTimeRange()
}

// HasTimeRange reports whether either bound is set.
func (f Filters) HasTimeRange() bool {
	return f.Start != nil || f.End != nil
}

// Window returns the time range with open bounds filled in.
func (f Filters) Window(now time.Time) (time.Time, time.Time) {
	start, end := time.Unix(0, 0), now
	if f.Start != nil {
		start = *f.Start
	}
	if f.End != nil {
		end = *f.End
	}
	return start, end
}

// TagsFromMap turns a field→value map into filters ordered by field.
func TagsFromMap(m map[string]string) []TagFilter {
	out := make([]TagFilter, 0, len(m))
	for k, v := range m {
		out = append(out, TagFilter{Field: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Candidate is a job read from a known bucket. It memoizes the decoded and
// lowercased payload so repeated predicate checks stay cheap.
type Candidate struct {
	Job    *core.Job
	Status core.JobStatus

	fields      map[string]any
	fieldsDone  bool
	payload     string
	payloadDone bool
}

// NewCandidate wraps job read from bucket status.
func NewCandidate(job *core.Job, status core.JobStatus) *Candidate {
	return &Candidate{Job: job, Status: status}
}

func (c *Candidate) payloadFields() map[string]any {
	if !c.fieldsDone {
		c.fieldsDone = true
		_ = json.Unmarshal(c.Job.Data, &c.fields)
	}
	return c.fields
}

func (c *Candidate) lowerPayload() string {
	if !c.payloadDone {
		c.payloadDone = true
		c.payload = strings.ToLower(string(c.Job.Data))
	}
	return c.payload
}

// MatchTags reports whether every filter is a case-insensitive substring of
// its payload field. A missing or null field never matches.
func (c *Candidate) MatchTags(tags []TagFilter) bool {
	if len(tags) == 0 {
		return true
	}
	fields := c.payloadFields()
	if fields == nil {
		return false
	}
	for _, t := range tags {
		v, ok := fields[t.Field]
		if !ok || v == nil {
			return false
		}
		var s string
		switch v.(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(v)
			s = string(b)
		default:
			s = core.TagString(v)
		}
		if !strings.Contains(strings.ToLower(s), strings.ToLower(t.Value)) {
			return false
		}
	}
	return true
}

// MatchText checks id, then name, then the payload. lowerText must already
// be lowercased; an empty text matches.
func (c *Candidate) MatchText(lowerText string) bool {
	if lowerText == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Job.ID), lowerText) {
		return true
	}
	if strings.Contains(strings.ToLower(c.Job.Name), lowerText) {
		return true
	}
	return strings.Contains(c.lowerPayload(), lowerText)
}

// Match applies tag and text filters together.
func (c *Candidate) Match(tags []TagFilter, lowerText string) bool {
	return c.MatchTags(tags) && c.MatchText(lowerText)
}
