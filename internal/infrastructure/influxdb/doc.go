// Package influxdb provides InfluxDB connectivity for Matterverse Core.
//
// It wraps the official influxdb-client-go v2 library with Matterverse-specific
// patterns for connection management, attribute history writing, and health
// monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Attribute value history (polled and commanded changes)
//   - Command invocation outcomes
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "matterverse",
//	    Bucket: "attributes",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record an attribute sample
//	client.WriteAttributeSample(5, 1, "onoff", "on-off", true, time.Now())
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
// This reduces network overhead for high-frequency polling data.
package influxdb
