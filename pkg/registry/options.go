package registry

import "github.com/jdziat/queue-workbench/pkg/core"

// Option configures a Registry.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	tagFields []string
	parents   core.ParentResolver
	flows     core.FlowStore
}

// WithTagFields sets the payload fields exposed as tags.
func WithTagFields(fields ...string) Option {
	return optionFunc(func(c *config) {
		c.tagFields = append([]string(nil), fields...)
	})
}

// WithParentResolver sets how parent links are decoded.
func WithParentResolver(pr core.ParentResolver) Option {
	return optionFunc(func(c *config) {
		if pr != nil {
			c.parents = pr
		}
	})
}

// WithFlowStore enables flow listing and creation.
func WithFlowStore(fs core.FlowStore) Option {
	return optionFunc(func(c *config) {
		c.flows = fs
	})
}
