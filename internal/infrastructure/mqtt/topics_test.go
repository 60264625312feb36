package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceEvent", topics.DeviceEvent("dev-01"), "cthz/event/dev-01"},
		{"DeviceCommand", topics.DeviceCommand("dev-01"), "cthz/command/dev-01"},
		{"DeviceResult", topics.DeviceResult("dev-01"), "cthz/result/dev-01"},
		{"CoreStatus", topics.CoreStatus("station", "stn-lobby"), "cthz/core/status/station/stn-lobby"},
		{"CoreAlert", topics.CoreAlert("alert-7f3a"), "cthz/core/alert/alert-7f3a"},
		{"CoreEvent", topics.CoreEvent("threat_detected"), "cthz/core/event/threat_detected"},
		{"SystemStatus", topics.SystemStatus(), "cthz/system/status"},
		{"AllDeviceEvents", topics.AllDeviceEvents(), "cthz/event/+"},
		{"AllDeviceResults", topics.AllDeviceResults(), "cthz/result/+"},
		{"AllCoreStatus", topics.AllCoreStatus(), "cthz/core/status/+/+"},
		{"AllTopics", topics.AllTopics(), "cthz/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"cthz/event/dev-01", "dev-01"},
		{"cthz/result/dev-01", "dev-01"},
		{"cthz/command/dev-01", "dev-01"},
		{"cthz/system/status", ""},
		{"cthz/core/status/station/stn-01", ""},
		{"other/event/dev-01", ""},
		{"cthz/event", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DeviceIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
