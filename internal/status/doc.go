// Package status aggregates device health into station and group status.
//
// Devices own their status, driven by heartbeat and status-report events and
// by synthesized heartbeat-expired events from the Monitor. Station and group
// statuses are derived exclusively by rollup over their members and are never
// set directly. Every applied transition at any level produces a synthetic
// status-change event that re-enters the pipeline, so a single sensor failure
// can surface as a station or group alert through ordinary policies.
package status
