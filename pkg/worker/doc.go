// Package worker drains queues that expose the take/complete/fail API.
//
// The workbench itself only inspects and mutates queues. Worker exists so a
// demo or integration test can move jobs through their lifecycle and give
// the dashboard live data:
//   - Worker: polls each Source and runs the handler registered for the
//     job name
//   - Option: queues, handlers, poll interval and storage retry settings
//   - Func: adapts func(ctx, T) (R, error) into a Handler
//
// The memory and SQL bindings implement Source. The Redis binding does not.
package worker
