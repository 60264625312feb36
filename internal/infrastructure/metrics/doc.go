// Package metrics provides Prometheus instrumentation for CTHz Fleet Core.
//
// All instruments live on a private registry exposed via Handler(), so the
// /metrics endpoint only serves fleet core metrics plus the standard Go and
// process collectors. Counters and gauges are created once at startup and
// shared by the pipeline, policy resolver, dispatcher and alert manager.
package metrics
