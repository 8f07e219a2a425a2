package workbench

import (
	"context"
	"strconv"
	"time"

	"github.com/jdziat/queue-workbench/pkg/analytics"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/flow"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/schedule"
	"github.com/jdziat/queue-workbench/pkg/search"
	"github.com/jdziat/queue-workbench/pkg/security"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

// Runs lists jobs across every queue. The next page's cursor is the offset
// to resume from; Total is always core.TotalUnknown.
func (w *Workbench) Runs(ctx context.Context, q runs.Query) (*core.Page, error) {
	defer telemetry.ObserveEngine("runs", time.Now())
	q.Limit = security.ClampLimit(q.Limit, runs.DefaultLimit)
	page, err := w.runs.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if page.HasMore {
		page.Cursor = strconv.Itoa(max(q.Offset, 0) + q.Limit)
	}
	return page, nil
}

// RunsCursor converts a cursor from a previous Runs page into an offset.
func RunsCursor(cursor string) (int, error) {
	return parseCursor(cursor)
}

// Schedulers lists repeatable and delayed jobs across every queue.
func (w *Workbench) Schedulers(ctx context.Context, repeatableSort, delayedSort schedule.Sort) (*schedule.Schedulers, error) {
	return w.schedulers.List(ctx, repeatableSort, delayedSort)
}

// Metrics returns the 24-hour metrics, cached as one unit.
func (w *Workbench) Metrics(ctx context.Context) (*analytics.Metrics, error) {
	return w.analytics.Metrics(ctx)
}

// Activity returns the 7-day activity view.
func (w *Workbench) Activity(ctx context.Context) (*analytics.Activity, error) {
	return w.analytics.Activity(ctx)
}

// Search runs a "field:value free text" query across every queue.
func (w *Workbench) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	defer telemetry.ObserveEngine("search", time.Now())
	return w.search.Search(ctx, query, limit)
}

// TagValues returns the most frequent values of one payload field.
func (w *Workbench) TagValues(ctx context.Context, field string, limit int) ([]search.TagValue, error) {
	if field == "" {
		return nil, core.InvalidInputf("tag field is required")
	}
	if !w.IsTagField(field) {
		return nil, core.InvalidInputf("%q is not a configured tag field", field)
	}
	return w.search.TagValues(ctx, field, limit)
}

// Flows lists flow roots that have children.
func (w *Workbench) Flows(ctx context.Context, limit int) ([]flow.Summary, error) {
	defer telemetry.ObserveEngine("flows", time.Now())
	return w.flows.List(ctx, limit)
}

// Flow returns one flow tree, or nil when the root does not exist.
func (w *Workbench) Flow(ctx context.Context, queue, id string) (*flow.Node, error) {
	return w.flows.Get(ctx, queue, id)
}
