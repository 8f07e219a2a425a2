package runs

import (
	"sort"
	"strings"

	"github.com/jdziat/queue-workbench/pkg/core"
)

// Sortable run fields.
const (
	SortTimestamp   = "timestamp"
	SortName        = "name"
	SortStatus      = "status"
	SortDuration    = "duration"
	SortQueueName   = "queueName"
	SortProcessedOn = "processedOn"
)

// Sort is a field and direction.
type Sort struct {
	Field string
	Desc  bool
}

// DefaultSort is most recent first.
var DefaultSort = Sort{Field: SortTimestamp, Desc: true}

// ParseSort reads "field:dir". The direction defaults to desc and unknown
// fields fall back to timestamp.
func ParseSort(s string) Sort {
	if s == "" {
		return DefaultSort
	}
	field, dir, _ := strings.Cut(s, ":")
	switch field {
	case SortTimestamp, SortName, SortStatus, SortDuration, SortQueueName, SortProcessedOn:
	default:
		field = SortTimestamp
	}
	return Sort{Field: field, Desc: dir != "asc"}
}

// String renders the sort in ParseSort form.
func (s Sort) String() string {
	if s.Desc {
		return s.Field + ":desc"
	}
	return s.Field + ":asc"
}

// IsTimestampDesc reports whether s is the fast-path ordering.
func (s Sort) IsTimestampDesc() bool {
	return s.Field == SortTimestamp && s.Desc
}

// tieLess orders by queue name and then id for determinism.
func tieLess(aq, aid, bq, bid string) bool {
	if aq != bq {
		return aq < bq
	}
	return aid < bid
}

// SortCandidates orders raw candidates by creation time.
func SortCandidates(cs []*Candidate, desc bool) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].Job, cs[j].Job
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return tieLess(a.Queue, a.ID, b.Queue, b.ID)
	})
}

type sortValue struct {
	s string
	n int64
}

func infoValue(info *core.JobInfo, field string) sortValue {
	switch field {
	case SortName:
		return sortValue{s: strings.ToLower(info.Name)}
	case SortStatus:
		return sortValue{s: string(info.Status)}
	case SortDuration:
		if info.Duration != nil {
			return sortValue{n: *info.Duration}
		}
	case SortQueueName:
		return sortValue{s: strings.ToLower(info.QueueName)}
	case SortProcessedOn:
		if info.ProcessedOn != nil {
			return sortValue{n: *info.ProcessedOn}
		}
	case SortTimestamp:
		return sortValue{n: info.Timestamp}
	}
	return sortValue{}
}

func (a sortValue) compare(b sortValue) int {
	switch {
	case a.s < b.s:
		return -1
	case a.s > b.s:
		return 1
	case a.n < b.n:
		return -1
	case a.n > b.n:
		return 1
	}
	return 0
}

// SortInfos orders converted jobs by any sortable field. Equal values fall
// back to newest first, then queue and id.
func SortInfos(infos []core.JobInfo, s Sort) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := &infos[i], &infos[j]
		c := infoValue(a, s.Field).compare(infoValue(b, s.Field))
		if c != 0 {
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return tieLess(a.QueueName, a.ID, b.QueueName, b.ID)
	})
}
