// Package registry holds the queue handles the workbench serves.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/security"
)

// Registry maps queue names to backend handles. It is built once at startup
// and read-only afterwards, so it needs no locking.
type Registry struct {
	queues    map[string]core.Queue
	names     []string
	tagFields []string
	parents   core.ParentResolver
	flows     core.FlowStore
}

// New builds a registry from already opened handles.
func New(queues []core.Queue, opts ...Option) (*Registry, error) {
	cfg := &config{parents: core.ParentResolverFunc(core.DefaultParentRef)}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	r := &Registry{
		queues:    make(map[string]core.Queue, len(queues)),
		tagFields: cfg.tagFields,
		parents:   cfg.parents,
		flows:     cfg.flows,
	}
	for _, q := range queues {
		name := q.Name()
		if err := security.ValidateQueueName(name); err != nil {
			return nil, fmt.Errorf("registry: queue %q: %w", name, err)
		}
		if _, dup := r.queues[name]; dup {
			return nil, fmt.Errorf("registry: duplicate queue %q", name)
		}
		r.queues[name] = q
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Open resolves names against backend. When names is empty and the backend
// can list its queues, every discovered queue is registered.
func Open(ctx context.Context, backend core.Backend, names []string, opts ...Option) (*Registry, error) {
	if len(names) == 0 {
		d, ok := backend.(core.Discoverer)
		if !ok {
			return nil, fmt.Errorf("registry: no queues configured and backend cannot discover them")
		}
		found, err := d.QueueNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: discover queues: %w", err)
		}
		names = found
	}

	queues := make([]core.Queue, 0, len(names))
	for _, name := range names {
		q, err := backend.Queue(name)
		if err != nil {
			return nil, fmt.Errorf("registry: open queue %q: %w", name, err)
		}
		queues = append(queues, q)
	}

	base := []Option{WithParentResolver(backend)}
	if fs, ok := backend.(core.FlowStore); ok {
		base = append(base, WithFlowStore(fs))
	}
	return New(queues, append(base, opts...)...)
}

// Queue returns the named handle or core.ErrQueueNotFound.
func (r *Registry) Queue(name string) (core.Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrQueueNotFound, name)
	}
	return q, nil
}

// Names returns queue names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Queues returns handles ordered by name.
func (r *Registry) Queues() []core.Queue {
	out := make([]core.Queue, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.queues[n])
	}
	return out
}

// Len returns the number of registered queues.
func (r *Registry) Len() int {
	return len(r.names)
}

// TagFields returns the payload fields configured as filterable tags.
func (r *Registry) TagFields() []string {
	return r.tagFields
}

// IsTagField reports whether field is a configured tag.
func (r *Registry) IsTagField(field string) bool {
	for _, f := range r.tagFields {
		if f == field {
			return true
		}
	}
	return false
}

// Parents returns the parent resolver supplied by the backend binding.
func (r *Registry) Parents() core.ParentResolver {
	return r.parents
}

// Flows returns the flow store, or nil when the backend has none.
func (r *Registry) Flows() core.FlowStore {
	return r.flows
}

// Info projects job with the registry's tag fields and parent resolver.
func (r *Registry) Info(job *core.Job, status core.JobStatus) core.JobInfo {
	return core.NewJobInfo(job, status, r.tagFields, r.parents)
}
