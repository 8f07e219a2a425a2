package search

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/security"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

// TagValue is a distinct payload value and how often it was seen.
type TagValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TagValues counts the distinct scalar values of a payload field across
// recent jobs, most frequent first.
func (e *Engine) TagValues(ctx context.Context, field string, limit int) ([]TagValue, error) {
	if field == "" {
		return nil, core.InvalidInputf("tag field is required")
	}
	limit = security.ClampLimit(limit, DefaultTagValuesLimit)

	began := time.Now()
	defer telemetry.ObserveEngine("tag_values", began)

	seen := make(map[string]int)
	e.scan(ctx, TagValuesFetch, func(c *runs.Candidate) {
		if v, ok := scalarField(c.Job.Data, field); ok {
			seen[v]++
		}
	})

	out := make([]TagValue, 0, len(seen))
	for v, n := range seen {
		out = append(out, TagValue{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scalarField returns a string, number or bool field of a JSON object as text.
func scalarField(data json.RawMessage, field string) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
