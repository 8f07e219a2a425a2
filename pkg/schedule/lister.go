package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
)

// DelayedFetch is how many delayed jobs are read per queue.
const DelayedFetch = 100

// RepeatableInfo is a repeat descriptor with times in epoch milliseconds.
type RepeatableInfo struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	QueueName string `json:"queueName"`
	Pattern   string `json:"pattern,omitempty"`
	Every     int64  `json:"every,omitempty"`
	Next      *int64 `json:"next,omitempty"`
	EndDate   *int64 `json:"endDate,omitempty"`
	TZ        string `json:"tz,omitempty"`
}

// DelayedInfo is a delayed job as shown in the schedulers view.
type DelayedInfo struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	QueueName string          `json:"queueName"`
	Delay     int64           `json:"delay"`
	ProcessAt int64           `json:"processAt"`
	Data      json.RawMessage `json:"data"`
}

// Schedulers holds both lists.
type Schedulers struct {
	Repeatable []RepeatableInfo `json:"repeatable"`
	Delayed    []DelayedInfo    `json:"delayed"`
}

// Sort is a field and direction. Scheduler lists default to ascending.
type Sort struct {
	Field string
	Desc  bool
}

// ParseSort reads "field:dir"; only "desc" flips the direction.
func ParseSort(s, defField string) Sort {
	if s == "" {
		return Sort{Field: defField}
	}
	field, dir, _ := strings.Cut(s, ":")
	if field == "" {
		field = defField
	}
	return Sort{Field: field, Desc: dir == "desc"}
}

// Lister collects scheduler entries across the registry.
type Lister struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// NewLister creates a Lister.
func NewLister(reg *registry.Registry, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{reg: reg, logger: logger}
}

// List reads every queue concurrently. Queues that fail are logged and skipped.
func (l *Lister) List(ctx context.Context, repeatableSort, delayedSort Sort) (*Schedulers, error) {
	var (
		mu  sync.Mutex
		out = &Schedulers{Repeatable: []RepeatableInfo{}, Delayed: []DelayedInfo{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range l.reg.Queues() {
		g.Go(func() error {
			reps, err := q.Repeatables(gctx)
			if err != nil {
				l.logger.Warn("list repeatables failed", "queue", q.Name(), "error", err)
			}
			delayed, err := q.Jobs(gctx, []core.JobStatus{core.StatusDelayed}, 0, DelayedFetch-1, true)
			if err != nil {
				l.logger.Warn("list delayed jobs failed", "queue", q.Name(), "error", err)
			}

			mu.Lock()
			defer mu.Unlock()
			for _, r := range reps {
				out.Repeatable = append(out.Repeatable, repeatableInfo(q.Name(), r))
			}
			for _, j := range delayed {
				out.Delayed = append(out.Delayed, delayedInfo(j))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortRepeatable(out.Repeatable, repeatableSort)
	SortDelayed(out.Delayed, delayedSort)
	return out, nil
}

func repeatableInfo(queue string, r core.RepeatableJob) RepeatableInfo {
	info := RepeatableInfo{
		Key:       r.Key,
		Name:      r.Name,
		QueueName: queue,
		Pattern:   r.Pattern,
		Every:     r.Every,
		TZ:        r.TZ,
	}
	if info.Name == "" {
		info.Name = "unnamed"
	}
	if r.Next != nil {
		ms := r.Next.UnixMilli()
		info.Next = &ms
	}
	if r.EndDate != nil {
		ms := r.EndDate.UnixMilli()
		info.EndDate = &ms
	}
	return info
}

func delayedInfo(j *core.Job) DelayedInfo {
	delay := j.Opts.Delay
	if delay == 0 {
		delay = j.Delay
	}
	data := j.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return DelayedInfo{
		ID:        j.ID,
		Name:      j.Name,
		QueueName: j.Queue,
		Delay:     delay.Milliseconds(),
		ProcessAt: j.CreatedAt.Add(delay).UnixMilli(),
		Data:      data,
	}
}

// sortKey is either a lowercase string or a number.
type sortKey struct {
	s string
	n int64
}

func (a sortKey) less(b sortKey) bool {
	if a.s != b.s {
		return a.s < b.s
	}
	return a.n < b.n
}

func repeatableKey(r RepeatableInfo, field string) sortKey {
	switch field {
	case "queueName":
		return sortKey{s: strings.ToLower(r.QueueName)}
	case "pattern":
		return sortKey{s: strings.ToLower(r.Pattern)}
	case "next":
		if r.Next != nil {
			return sortKey{n: *r.Next}
		}
		return sortKey{}
	case "tz":
		return sortKey{s: strings.ToLower(r.TZ)}
	}
	return sortKey{s: strings.ToLower(r.Name)}
}

func delayedKey(d DelayedInfo, field string) sortKey {
	switch field {
	case "name":
		return sortKey{s: strings.ToLower(d.Name)}
	case "queueName":
		return sortKey{s: strings.ToLower(d.QueueName)}
	case "delay":
		return sortKey{n: d.Delay}
	}
	return sortKey{n: d.ProcessAt}
}

// SortRepeatable orders by name, queueName, pattern, next or tz. Unknown
// fields sort by name.
func SortRepeatable(items []RepeatableInfo, s Sort) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := repeatableKey(items[i], s.Field), repeatableKey(items[j], s.Field)
		if s.Desc {
			return b.less(a)
		}
		return a.less(b)
	})
}

// SortDelayed orders by name, queueName, processAt or delay. Unknown fields
// sort by processAt.
func SortDelayed(items []DelayedInfo, s Sort) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := delayedKey(items[i], s.Field), delayedKey(items[j], s.Field)
		if s.Desc {
			return b.less(a)
		}
		return a.less(b)
	})
}
