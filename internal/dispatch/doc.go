// Package dispatch executes matched policies' action lists.
//
// Actions run strictly in declared order with partial-failure isolation: each
// action's outcome is recorded as an ActionResult and later actions still
// run, with one exception — actions that declare use_scan_correlation are
// skipped once a trigger_scan in the same policy has failed, rather than
// executing against a missing correlation id.
//
// Deliveries to external sinks retry transient failures with bounded
// exponential backoff; permanent failures are recorded immediately. The
// worker pool is independent of the event pipeline so slow downstreams never
// stall health aggregation.
package dispatch
