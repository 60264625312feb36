// Package influxdb provides InfluxDB connectivity for CTHz Fleet Core.
//
// It wraps the official influxdb-client-go v2 library with CTHz-specific
// patterns for connection management, history writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Health status transitions (device, station, group)
//   - Threat detections with classifier confidence
//   - Action dispatch outcomes and retry counts
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "cthz",
//	    Bucket: "fleet",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStatusTransition("device", "dev-lobby-east", "online", "degraded")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead when a large fleet is reporting.
package influxdb
