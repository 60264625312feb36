// Package event defines the immutable event type flowing through the fleet
// core pipeline, its ingress validation, and the constructors for the
// synthetic events the core feeds back into itself (status changes,
// heartbeat expiries, request completions and timeouts).
package event
