// Package progress tracks and publishes build progress. Tracker is the shared
// done-counter each worker pool advances; Hub batches run lifecycle and progress
// bar events on a background goroutine and fans them out to pluggable sinks
// such as logs, Prometheus metrics, or the run repository. Bar updates of the
// same run and bar coalesce inside a batch, so a busy pool costs sinks one
// write per bar per flush.
package progress
