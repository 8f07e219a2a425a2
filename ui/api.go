package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/search"
)

// maxBodyBytes bounds request bodies; payloads are validated separately.
const maxBodyBytes = 2 << 20

type api struct {
	wb     *workbench.Workbench
	logger *slog.Logger
}

type successBody struct {
	Success bool `json:"success"`
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return core.InvalidInputf("request body: %v", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

func (a *api) overview(w http.ResponseWriter, r *http.Request) {
	ov, err := a.wb.Overview(r.Context())
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (a *api) counts(w http.ResponseWriter, r *http.Request) {
	c, err := a.wb.Counts(r.Context())
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *api) runs(w http.ResponseWriter, r *http.Request) {
	q, err := parseRunsQuery(r)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	page, err := a.wb.Runs(r.Context(), q)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// parseRunsQuery reads limit, cursor, sort, status, q, from, to and tags.
func parseRunsQuery(r *http.Request) (runs.Query, error) {
	v := r.URL.Query()
	offset, err := workbench.RunsCursor(v.Get("cursor"))
	if err != nil {
		return runs.Query{}, err
	}
	q := runs.Query{
		Limit:  queryInt(r, "limit", runs.DefaultLimit),
		Offset: offset,
		Sort:   runs.ParseSort(v.Get("sort")),
	}

	if s := v.Get("status"); s != "" {
		st := core.JobStatus(s)
		if !st.Valid() {
			return runs.Query{}, fmt.Errorf("%w: %q", core.ErrInvalidStatus, s)
		}
		q.Filters.Status = st
	}

	tags, err := parseTags(v.Get("tags"))
	if err != nil {
		return runs.Query{}, err
	}
	q.Filters.Tags = tags
	if text := v.Get("q"); text != "" {
		parsed := search.Parse(text)
		q.Filters.Tags = append(q.Filters.Tags, parsed.Filters...)
		q.Filters.Text = parsed.Text
	}

	if q.Filters.Start, err = parseTime(v.Get("from")); err != nil {
		return runs.Query{}, err
	}
	if q.Filters.End, err = parseTime(v.Get("to")); err != nil {
		return runs.Query{}, err
	}
	return q, nil
}

// parseTags accepts a JSON object or comma-separated key:value pairs.
func parseTags(s string) ([]runs.TagFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	m := make(map[string]string)
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		for k, v := range obj {
			m[k] = core.TagString(v)
		}
		return runs.TagsFromMap(m), nil
	}
	if strings.HasPrefix(s, "{") {
		return nil, core.InvalidInputf("tags: malformed JSON")
	}
	for _, pair := range strings.Split(s, ",") {
		k, val, ok := strings.Cut(pair, ":")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if ok && k != "" && val != "" {
			m[k] = val
		}
	}
	return runs.TagsFromMap(m), nil
}

// parseTime accepts epoch milliseconds or RFC 3339.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, core.InvalidInputf("time %q: want epoch milliseconds or RFC 3339", s)
	}
	return &t, nil
}

func (a *api) schedulers(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	res, err := a.wb.Schedulers(r.Context(),
		workbench.ParseSchedulerSort(v.Get("repeatableSort"), "name"),
		workbench.ParseSchedulerSort(v.Get("delayedSort"), "processAt"))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) queueNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.wb.QueueNames())
}

func (a *api) queues(w http.ResponseWriter, r *http.Request) {
	qs, err := a.wb.Queues(r.Context())
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (a *api) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.wb.Metrics(r.Context())
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *api) activity(w http.ResponseWriter, r *http.Request) {
	act, err := a.wb.Activity(r.Context())
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (a *api) queueJobs(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	jq := workbench.JobsQuery{
		Queue:  r.PathValue("name"),
		Status: core.JobStatus(v.Get("status")),
		Limit:  queryInt(r, "limit", workbench.DefaultJobsLimit),
		Cursor: v.Get("cursor"),
		Sort:   runs.ParseSort(v.Get("sort")),
	}
	page, err := a.wb.Jobs(r.Context(), jq)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *api) job(w http.ResponseWriter, r *http.Request) {
	info, err := a.wb.Job(r.Context(), r.PathValue("queue"), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "Job not found"})
			return
		}
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	results := []search.Result{}
	if query != "" {
		found, err := a.wb.Search(r.Context(), query, queryInt(r, "limit", search.DefaultLimit))
		if err != nil {
			writeError(w, a.logger, err)
			return
		}
		results = append(results, found...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *api) tagValues(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	if !a.wb.IsTagField(field) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Field %q is not a configured tag field", field)})
		return
	}
	values, err := a.wb.TagValues(r.Context(), field, queryInt(r, "limit", search.DefaultTagValuesLimit))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	if values == nil {
		values = []search.TagValue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"field": field, "values": values})
}

func (a *api) flows(w http.ResponseWriter, r *http.Request) {
	flows, err := a.wb.Flows(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	if flows == nil {
		flows = []workbench.FlowSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (a *api) flow(w http.ResponseWriter, r *http.Request) {
	node, err := a.wb.Flow(r.Context(), r.PathValue("queue"), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	if node == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Flow not found"})
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *api) config(w http.ResponseWriter, r *http.Request) {
	fields := a.wb.TagFields()
	if fields == nil {
		fields = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readonly":  a.wb.ReadOnly(),
		"tagFields": fields,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────────────────────────────────

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	a.wb.Refresh()
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

// jobOpts is the wire form of enqueue options; delay is in milliseconds.
type jobOpts struct {
	Delay    int64 `json:"delay,omitempty"`
	Priority int   `json:"priority,omitempty"`
	Attempts int   `json:"attempts,omitempty"`
}

func (o *jobOpts) options() core.JobOptions {
	if o == nil {
		return core.JobOptions{}
	}
	return core.JobOptions{
		Attempts: o.Attempts,
		Delay:    time.Duration(o.Delay) * time.Millisecond,
		Priority: o.Priority,
	}
}

type testJobRequest struct {
	QueueName string          `json:"queueName"`
	JobName   string          `json:"jobName"`
	Data      json.RawMessage `json:"data,omitempty"`
	Opts      *jobOpts        `json:"opts,omitempty"`
}

func (a *api) enqueueTest(w http.ResponseWriter, r *http.Request) {
	if a.wb.ReadOnly() {
		writeError(w, a.logger, core.ErrReadOnly)
		return
	}
	var req testJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	if req.QueueName == "" || req.JobName == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "queueName and jobName are required"})
		return
	}
	id, err := a.wb.EnqueueTestJob(r.Context(), workbench.TestJob{
		Queue: req.QueueName,
		Name:  req.JobName,
		Data:  req.Data,
		Opts:  req.Opts.options(),
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *api) jobAction(w http.ResponseWriter, r *http.Request) {
	queue, id, action := r.PathValue("queue"), r.PathValue("id"), r.PathValue("action")

	var (
		ok  bool
		err error
	)
	switch action {
	case "retry":
		ok, err = a.wb.RetryJob(r.Context(), queue, id)
	case "remove":
		ok, err = a.wb.RemoveJob(r.Context(), queue, id)
	case "promote":
		ok, err = a.wb.PromoteJob(r.Context(), queue, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

type cleanRequest struct {
	Status core.JobStatus `json:"status"`
	// Grace is in milliseconds.
	Grace int64 `json:"grace,omitempty"`
}

func (a *api) clean(w http.ResponseWriter, r *http.Request) {
	if a.wb.ReadOnly() {
		writeError(w, a.logger, core.ErrReadOnly)
		return
	}
	var req cleanRequest
	if err := decode(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	n, err := a.wb.Clean(r.Context(), r.PathValue("name"), req.Status, time.Duration(req.Grace)*time.Millisecond)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	if err := a.wb.Pause(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "paused": true})
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	if err := a.wb.Resume(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "paused": false})
}

type bulkRequest struct {
	Jobs []core.JobRef `json:"jobs"`
}

func (a *api) bulk(w http.ResponseWriter, r *http.Request) {
	var apply func(context.Context, []core.JobRef) (workbench.BulkResult, error)
	switch r.PathValue("action") {
	case "retry":
		apply = a.wb.BulkRetry
	case "delete":
		apply = a.wb.BulkDelete
	case "promote":
		apply = a.wb.BulkPromote
	default:
		http.NotFound(w, r)
		return
	}

	if a.wb.ReadOnly() {
		writeError(w, a.logger, core.ErrReadOnly)
		return
	}
	var req bulkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	res, err := apply(r.Context(), req.Jobs)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// flowRequest is the wire form of a flow node.
type flowRequest struct {
	Name      string          `json:"name"`
	QueueName string          `json:"queueName"`
	Data      json.RawMessage `json:"data,omitempty"`
	Opts      *jobOpts        `json:"opts,omitempty"`
	Children  []flowRequest   `json:"children,omitempty"`
}

func (f flowRequest) spec() core.FlowSpec {
	s := core.FlowSpec{
		Name:  f.Name,
		Queue: f.QueueName,
		Data:  f.Data,
		Opts:  f.Opts.options(),
	}
	for _, c := range f.Children {
		s.Children = append(s.Children, c.spec())
	}
	return s
}

func (a *api) createFlow(w http.ResponseWriter, r *http.Request) {
	if a.wb.ReadOnly() {
		writeError(w, a.logger, core.ErrReadOnly)
		return
	}
	var req flowRequest
	if err := decode(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}
	if req.Name == "" || req.QueueName == "" || len(req.Children) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "name, queueName, and children are required"})
		return
	}
	id, err := a.wb.CreateFlow(r.Context(), req.spec())
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
