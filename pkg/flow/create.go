package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/security"
)

// ErrFlowsUnsupported is returned by Create when the backend cannot store flows.
var ErrFlowsUnsupported = fmt.Errorf("%w: backend does not support flows", core.ErrInvalidInput)

// Validate checks a flow before submission. The root needs at least one child.
func Validate(spec core.FlowSpec) error {
	if len(spec.Children) == 0 {
		return core.InvalidInputf("flow %q needs at least one child", spec.Name)
	}
	return validateNode(spec, "root")
}

func validateNode(spec core.FlowSpec, path string) error {
	if spec.Name == "" {
		return core.InvalidInputf("%s: name is required", path)
	}
	if spec.Queue == "" {
		return core.InvalidInputf("%s: queueName is required", path)
	}
	if err := security.ValidateJobName(spec.Name); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := security.ValidateQueueName(spec.Queue); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := security.ValidateJobData(spec.Data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for i, c := range spec.Children {
		if err := validateNode(c, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// normalize fills empty payloads and clamps attempts throughout the tree.
func normalize(spec core.FlowSpec) core.FlowSpec {
	if len(spec.Data) == 0 {
		spec.Data = json.RawMessage("{}")
	}
	if spec.Opts.Attempts > 0 {
		spec.Opts.Attempts = security.ClampAttempts(spec.Opts.Attempts)
	}
	if len(spec.Children) > 0 {
		children := make([]core.FlowSpec, len(spec.Children))
		for i, c := range spec.Children {
			children[i] = normalize(c)
		}
		spec.Children = children
	}
	return spec
}

// Create validates spec and submits it in one backend call. It returns the
// root job's id.
func (e *Engine) Create(ctx context.Context, spec core.FlowSpec) (string, error) {
	if err := Validate(spec); err != nil {
		return "", err
	}
	if _, err := e.reg.Queue(spec.Queue); err != nil {
		return "", err
	}
	fs := e.reg.Flows()
	if fs == nil {
		return "", ErrFlowsUnsupported
	}

	root, err := fs.AddFlow(ctx, normalize(spec))
	if err != nil {
		return "", fmt.Errorf("flow: add %q: %w", spec.Name, err)
	}
	e.Invalidate()
	e.logger.Info("flow created", "queue", root.Queue, "id", root.ID, "name", root.Name)
	return root.ID, nil
}
