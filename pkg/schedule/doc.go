// Package schedule exposes the scheduling metadata a backend holds.
//
// This package includes:
//   - Schedule, Every() and Cron() for computing the next run of a repeat entry
//   - NextRun() used by backend bindings that do not store next-run times
//   - Lister, which collects repeatable and delayed entries across queues
//     with an independent sort per list
package schedule
