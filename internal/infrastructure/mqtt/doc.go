// Package mqtt provides MQTT client connectivity for CTHz Fleet Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// CTHz uses MQTT as the transport between the fleet core and CTHz-300
// edge devices. Devices publish detections, heartbeats and request results;
// the core publishes scan/calibration commands and canonical status.
//
//	CTHz Fleet Core ↔ MQTT Broker ↔ CTHz-300 Devices
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device events
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a scan command
//	topic := mqtt.Topics{}.DeviceCommand("dev-lobby-east")
//	client.Publish(topic, []byte(`{"request_type":"scan"}`), 1, false)
package mqtt
