// Package core provides the fundamental types and interfaces for the workbench.
//
// This package contains:
//   - Job, Counts and scheduler descriptors as read from a backend
//   - JobInfo, the outward projection served to dashboards
//   - Queue, TimeIndex, FlowStore and ParentResolver, the backend contract
//   - Mutation events for auditing operator actions
//   - Sentinel errors shared by every layer
//
// Most users should import the root package github.com/jdziat/queue-workbench
// instead of this package directly.
package core
