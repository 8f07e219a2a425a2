package ui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jdziat/queue-workbench/pkg/core"
)

// wireEvent is the JSON form of a core.Event on the event stream.
type wireEvent struct {
	Type      string       `json:"type"`
	Queue     string       `json:"queue,omitempty"`
	Job       *core.JobRef `json:"job,omitempty"`
	Action    string       `json:"action,omitempty"`
	OK        *bool        `json:"ok,omitempty"`
	Status    string       `json:"status,omitempty"`
	Success   int          `json:"success,omitempty"`
	Failed    int          `json:"failed,omitempty"`
	Removed   int          `json:"removed,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

func eventToWire(e core.Event) *wireEvent {
	switch ev := e.(type) {
	case *core.JobEnqueued:
		ref := ev.Job.Ref()
		return &wireEvent{Type: "job.enqueued", Queue: ref.Queue, Job: &ref, Timestamp: ev.Timestamp.UnixMilli()}
	case *core.JobActioned:
		ref, ok := ev.Ref, ev.OK
		return &wireEvent{Type: "job.actioned", Queue: ref.Queue, Job: &ref, Action: ev.Action, OK: &ok, Timestamp: ev.Timestamp.UnixMilli()}
	case *core.BulkApplied:
		return &wireEvent{Type: "bulk.applied", Action: ev.Action, Success: ev.Success, Failed: ev.Failed, Timestamp: ev.Timestamp.UnixMilli()}
	case *core.QueueCleaned:
		return &wireEvent{Type: "queue.cleaned", Queue: ev.Queue, Status: string(ev.Status), Removed: ev.Removed, Timestamp: ev.Timestamp.UnixMilli()}
	case *core.QueuePaused:
		return &wireEvent{Type: "queue.paused", Queue: ev.Queue, Timestamp: ev.Timestamp.UnixMilli()}
	case *core.QueueResumed:
		return &wireEvent{Type: "queue.resumed", Queue: ev.Queue, Timestamp: ev.Timestamp.UnixMilli()}
	case *core.FlowCreated:
		ref := ev.Root
		return &wireEvent{Type: "flow.created", Queue: ref.Queue, Job: &ref, Timestamp: ev.Timestamp.UnixMilli()}
	default:
		return nil
	}
}

// keepAlive is how often an idle stream sends a comment line.
const keepAlive = 15 * time.Second

// events streams operator actions as server-sent events. The optional
// queues parameter is a comma-separated filter; events without a queue
// always pass.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	var filter []string
	if q := r.URL.Query().Get("queues"); q != "" {
		filter = strings.Split(q, ",")
	}

	events := a.wb.Events()
	defer a.wb.Unsubscribe(events)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, open := <-events:
			if !open {
				return
			}
			we := eventToWire(e)
			if we == nil {
				continue
			}
			if len(filter) > 0 && we.Queue != "" && !slices.Contains(filter, we.Queue) {
				continue
			}
			data, err := json.Marshal(we)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", we.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
