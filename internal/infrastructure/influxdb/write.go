package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStatusTransition records a health status transition for an entity.
//
// One point is written per transition, tagged by source type and ID so
// dashboards can reconstruct uptime and flapping per device, station or group.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - sourceType: "device", "station" or "group"
//   - sourceID: Entity identifier (e.g., "dev-lobby-east")
//   - from: Previous status
//   - to: New status
//
// Example:
//
//	client.WriteStatusTransition("device", "dev-lobby-east", "online", "degraded")
func (c *Client) WriteStatusTransition(sourceType, sourceID, from, to string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"status_transitions",
		map[string]string{
			"source_type": sourceType,
			"source_id":   sourceID,
			"to":          to,
		},
		map[string]interface{}{
			"from": from,
			"step": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDetection records a threat detection event.
//
// Parameters:
//   - deviceID: Reporting device
//   - threatType: Classified threat (e.g., "firearm", "knife")
//   - confidence: Classifier confidence in [0,1]
func (c *Client) WriteDetection(deviceID, threatType string, confidence float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"detections",
		map[string]string{
			"device_id":   deviceID,
			"threat_type": threatType,
		},
		map[string]interface{}{
			"confidence": confidence,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDispatchOutcome records the result of a single policy action execution.
//
// Parameters:
//   - policyID: Policy whose action was executed
//   - actionType: Action kind ("ui_alert", "trigger_scan", "external_event", "notify")
//   - status: Terminal status ("success", "failed", "skipped")
//   - attempts: Number of delivery attempts made
//   - duration: Wall time from first attempt to terminal status
func (c *Client) WriteDispatchOutcome(policyID, actionType, status string, attempts int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch_outcomes",
		map[string]string{
			"policy_id":   policyID,
			"action_type": actionType,
			"status":      status,
		},
		map[string]interface{}{
			"attempts":    attempts,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., events carrying their own
// occurred_at).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
