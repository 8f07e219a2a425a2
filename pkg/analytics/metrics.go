package analytics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

const (
	metricsBuckets = 24
	topN           = 10

	// AggregateQueue names the cross-queue rollup.
	AggregateQueue = "all"
)

// HourlyBucket is one hour of finished jobs. Averages are milliseconds.
type HourlyBucket struct {
	Hour        int64 `json:"hour"`
	Completed   int   `json:"completed"`
	Failed      int   `json:"failed"`
	AvgDuration int64 `json:"avgDuration"`
	AvgWaitTime int64 `json:"avgWaitTime"`
}

// Summary rolls a queue's buckets up.
type Summary struct {
	TotalCompleted    int     `json:"totalCompleted"`
	TotalFailed       int     `json:"totalFailed"`
	ErrorRate         float64 `json:"errorRate"`
	AvgDuration       int64   `json:"avgDuration"`
	AvgWaitTime       int64   `json:"avgWaitTime"`
	ThroughputPerHour int64   `json:"throughputPerHour"`
}

// QueueMetrics holds one queue's (or the aggregate's) 24 buckets.
type QueueMetrics struct {
	QueueName string         `json:"queueName"`
	Buckets   []HourlyBucket `json:"buckets"`
	Summary   Summary        `json:"summary"`
}

// SlowJob is an entry of the slowest-jobs list.
type SlowJob struct {
	Name      string `json:"name"`
	QueueName string `json:"queueName"`
	Duration  int64  `json:"duration"`
	JobID     string `json:"jobId"`
}

// FailingType is a (queue, job name) pair with at least one failure.
type FailingType struct {
	Name       string  `json:"name"`
	QueueName  string  `json:"queueName"`
	FailCount  int     `json:"failCount"`
	TotalCount int     `json:"totalCount"`
	ErrorRate  float64 `json:"errorRate"`
}

// Metrics is the 24-hour view.
type Metrics struct {
	Queues           []QueueMetrics `json:"queues"`
	Aggregate        QueueMetrics   `json:"aggregate"`
	SlowestJobs      []SlowJob      `json:"slowestJobs"`
	MostFailingTypes []FailingType  `json:"mostFailingTypes"`
	ComputedAt       int64          `json:"computedAt"`
}

// Metrics returns the cached 24-hour view, computing it on a miss.
func (e *Engine) Metrics(ctx context.Context) (*Metrics, error) {
	if m, ok := e.metrics.Get(metricsKey); ok {
		return m, nil
	}
	v, err, _ := e.flight.Do(metricsKey, func() (any, error) {
		if m, ok := e.metrics.Get(metricsKey); ok {
			return m, nil
		}
		v, err := e.bounded(ctx, metricsKey, func(ctx context.Context) (any, error) {
			return e.computeMetrics(ctx)
		})
		if err != nil {
			return nil, err
		}
		m := v.(*Metrics)
		e.metrics.Set(metricsKey, m, e.metricsTTL)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Metrics), nil
}

// series accumulates one queue's samples per bucket.
type series struct {
	buckets   []HourlyBucket
	durations [][]int64
	waits     [][]int64
}

func newSeries(start time.Time) *series {
	s := &series{
		buckets:   make([]HourlyBucket, metricsBuckets),
		durations: make([][]int64, metricsBuckets),
		waits:     make([][]int64, metricsBuckets),
	}
	for i := range s.buckets {
		s.buckets[i].Hour = start.Add(time.Duration(i) * time.Hour).UnixMilli()
	}
	return s
}

func (s *series) merge(o *series) {
	for i := range s.buckets {
		s.buckets[i].Completed += o.buckets[i].Completed
		s.buckets[i].Failed += o.buckets[i].Failed
		s.durations[i] = append(s.durations[i], o.durations[i]...)
		s.waits[i] = append(s.waits[i], o.waits[i]...)
	}
}

// finish fills bucket averages and builds the summary.
func (s *series) finish(name string) QueueMetrics {
	var allDur, allWait []int64
	var completed, failed int
	for i := range s.buckets {
		s.buckets[i].AvgDuration = mean(s.durations[i])
		s.buckets[i].AvgWaitTime = mean(s.waits[i])
		allDur = append(allDur, s.durations[i]...)
		allWait = append(allWait, s.waits[i]...)
		completed += s.buckets[i].Completed
		failed += s.buckets[i].Failed
	}
	sum := Summary{
		TotalCompleted:    completed,
		TotalFailed:       failed,
		AvgDuration:       mean(allDur),
		AvgWaitTime:       mean(allWait),
		ThroughputPerHour: int64(math.Round(float64(completed+failed) / metricsBuckets)),
	}
	if completed+failed > 0 {
		sum.ErrorRate = float64(failed) / float64(completed+failed)
	}
	return QueueMetrics{QueueName: name, Buckets: s.buckets, Summary: sum}
}

func mean(xs []int64) int64 {
	if len(xs) == 0 {
		return 0
	}
	var total int64
	for _, x := range xs {
		total += x
	}
	return int64(math.Round(float64(total) / float64(len(xs))))
}

type typeStats struct {
	name, queue       string
	completed, failed int
}

// queueSample is what one queue contributes to the metrics.
type queueSample struct {
	series *series
	slow   []SlowJob
	types  map[string]*typeStats
}

func (e *Engine) computeMetrics(ctx context.Context) (*Metrics, error) {
	began := time.Now()
	defer telemetry.ObserveEngine(metricsKey, began)

	now := e.now()
	windowStart := now.Add(-24 * time.Hour)
	start := windowStart.Truncate(time.Hour)

	ctx, span := telemetry.StartSpan(ctx, "analytics.metrics",
		attribute.Int("queues", e.reg.Len()))
	defer span.End()

	samples := make(map[string]*queueSample, e.reg.Len())
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, q := range e.finishedQueues(ctx) {
		g.Go(func() error {
			s, err := e.sampleQueue(ctx, q, start, windowStart, now)
			if err != nil {
				e.logger.Warn("analytics: metrics scan failed", "queue", q.Name(), "error", err)
				return nil
			}
			mu.Lock()
			samples[q.Name()] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}

	m := &Metrics{
		Queues:           make([]QueueMetrics, 0, e.reg.Len()),
		SlowestJobs:      []SlowJob{},
		MostFailingTypes: []FailingType{},
		ComputedAt:       now.UnixMilli(),
	}
	agg := newSeries(start)
	var types []*typeStats
	for _, name := range e.reg.Names() {
		s, ok := samples[name]
		if !ok {
			m.Queues = append(m.Queues, newSeries(start).finish(name))
			continue
		}
		agg.merge(s.series)
		m.Queues = append(m.Queues, s.series.finish(name))
		m.SlowestJobs = append(m.SlowestJobs, s.slow...)
		for _, ts := range s.types {
			types = append(types, ts)
		}
	}
	m.Aggregate = agg.finish(AggregateQueue)

	sort.SliceStable(m.SlowestJobs, func(i, j int) bool {
		a, b := m.SlowestJobs[i], m.SlowestJobs[j]
		if a.Duration != b.Duration {
			return a.Duration > b.Duration
		}
		return a.QueueName+a.JobID < b.QueueName+b.JobID
	})
	if len(m.SlowestJobs) > topN {
		m.SlowestJobs = m.SlowestJobs[:topN]
	}

	for _, ts := range types {
		if ts.failed == 0 {
			continue
		}
		total := ts.completed + ts.failed
		m.MostFailingTypes = append(m.MostFailingTypes, FailingType{
			Name:       ts.name,
			QueueName:  ts.queue,
			FailCount:  ts.failed,
			TotalCount: total,
			ErrorRate:  float64(ts.failed) / float64(total),
		})
	}
	sort.SliceStable(m.MostFailingTypes, func(i, j int) bool {
		a, b := m.MostFailingTypes[i], m.MostFailingTypes[j]
		if a.FailCount != b.FailCount {
			return a.FailCount > b.FailCount
		}
		if a.QueueName != b.QueueName {
			return a.QueueName < b.QueueName
		}
		return a.Name < b.Name
	})
	if len(m.MostFailingTypes) > topN {
		m.MostFailingTypes = m.MostFailingTypes[:topN]
	}
	return m, nil
}

// sampleQueue scans one queue's completed and failed jobs finished since
// windowStart. Durations and wait times come from completed jobs only.
func (e *Engine) sampleQueue(ctx context.Context, q core.Queue, start, windowStart, now time.Time) (*queueSample, error) {
	s := &queueSample{series: newSeries(start), types: make(map[string]*typeStats)}

	for _, st := range []core.JobStatus{core.StatusCompleted, core.StatusFailed} {
		jobs, err := e.scanner.ByTime(ctx, q, st, windowStart, now, MetricsScanCap)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if j.FinishedAt == nil || j.FinishedAt.Before(windowStart) {
				continue
			}
			key := j.Name + "\x00"
			ts, ok := s.types[key]
			if !ok {
				ts = &typeStats{name: j.Name, queue: q.Name()}
				s.types[key] = ts
			}

			idx := int(j.FinishedAt.Sub(start) / time.Hour)
			inRange := idx >= 0 && idx < metricsBuckets

			if st == core.StatusFailed {
				ts.failed++
				if inRange {
					s.series.buckets[idx].Failed++
				}
				continue
			}
			ts.completed++
			if !inRange {
				continue
			}
			s.series.buckets[idx].Completed++
			if j.ProcessedAt == nil {
				continue
			}
			if d := j.FinishedAt.Sub(*j.ProcessedAt).Milliseconds(); d > 0 {
				s.series.durations[idx] = append(s.series.durations[idx], d)
				s.slow = append(s.slow, SlowJob{Name: j.Name, QueueName: q.Name(), Duration: d, JobID: j.ID})
			}
			if w := j.ProcessedAt.Sub(j.CreatedAt).Milliseconds(); w > 0 {
				s.series.waits[idx] = append(s.series.waits[idx], w)
			}
		}
	}
	return s, nil
}
