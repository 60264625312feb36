package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the CTHz message bus.
//
// Device-facing topics use the flat scheme: cthz/{category}/{device_id}.
// Core-originated topics live under cthz/core and carry processed output
// (canonical status, alerts) rather than raw sensor traffic.
const (
	// TopicPrefix is the base for all CTHz topics.
	TopicPrefix = "cthz"

	// TopicPrefixCore is the base for core-originated topics.
	TopicPrefixCore = "cthz/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "cthz/system"
)

// Topics provides builders for CTHz MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("dev-lobby-east")
//	// Returns: "cthz/command/dev-lobby-east"
type Topics struct{}

// DeviceEvent returns the topic a device publishes its events on
// (detections, heartbeats, calibration reports).
//
// Example: cthz/event/dev-lobby-east
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the topic for commands to a device
// (scan and calibration requests).
//
// Example: cthz/command/dev-lobby-east
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceResult returns the topic a device publishes request results on.
// The payload carries the correlation ID of the originating request.
//
// Example: cthz/result/dev-lobby-east
func (Topics) DeviceResult(deviceID string) string {
	return fmt.Sprintf("%s/result/%s", TopicPrefix, deviceID)
}

// CoreStatus returns the canonical status topic for an entity.
// This is the authoritative status published by the core after aggregation.
//
// Example: cthz/core/status/station/stn-lobby
func (Topics) CoreStatus(sourceType, id string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefixCore, sourceType, id)
}

// CoreAlert returns the topic for alerts raised by the core.
//
// Example: cthz/core/alert/alert-7f3a
func (Topics) CoreAlert(alertID string) string {
	return fmt.Sprintf("%s/alert/%s", TopicPrefixCore, alertID)
}

// CoreEvent returns the topic for processed core events.
//
// Example: cthz/core/event/threat_detected
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the core system status topic (online/offline, LWT).
//
// Example: cthz/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceEvents returns a pattern matching event traffic from every device.
//
// Pattern: cthz/event/+
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// AllDeviceResults returns a pattern matching request results from every device.
//
// Pattern: cthz/result/+
func (Topics) AllDeviceResults() string {
	return fmt.Sprintf("%s/result/+", TopicPrefix)
}

// AllCoreStatus returns a pattern matching all canonical status updates.
//
// Pattern: cthz/core/status/+/+
func (Topics) AllCoreStatus() string {
	return fmt.Sprintf("%s/status/+/+", TopicPrefixCore)
}

// AllTopics returns a pattern matching all CTHz topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: cthz/#
func (Topics) AllTopics() string {
	return "cthz/#"
}

// DeviceIDFromTopic extracts the device ID from a device-facing topic
// (event, command or result). Returns "" if the topic does not match.
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix {
		return ""
	}
	switch parts[1] {
	case "event", "command", "result":
		return parts[2]
	}
	return ""
}
