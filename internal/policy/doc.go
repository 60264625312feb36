// Package policy implements declarative event-response policies.
//
// A policy pairs a condition tree (see internal/rules) with an ordered list
// of actions and a scope binding it to a device, station, group, or the whole
// fleet. The Registry caches policies in memory and resolves the set matching
// an incoming event in deterministic dispatch order: priority descending,
// narrower scope first, then ID.
//
// System policies are seeded by migration and cannot be deleted, only
// deactivated.
package policy
