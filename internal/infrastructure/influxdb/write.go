package influxdb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAttributeSample records a single attribute observation.
//
// This is the primary method for recording attribute history. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Numeric and boolean values are stored as typed fields so they can be
// graphed and aggregated; everything else is stored as a string field.
//
// Parameters:
//   - nodeID: Matter node identifier
//   - endpoint: Endpoint identifier on the node
//   - cluster: Cluster token (e.g., "onoff")
//   - attribute: Attribute name in wire form (e.g., "on-off")
//   - value: The observed value
//   - observedAt: When the value was read from the device
//
// Example:
//
//	client.WriteAttributeSample(5, 1, "onoff", "on-off", true, time.Now())
//	client.WriteAttributeSample(5, 1, "levelcontrol", "current-level", 128, time.Now())
func (c *Client) WriteAttributeSample(nodeID, endpoint uint64, cluster, attribute string, value any, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, 1)
	switch v := value.(type) {
	case bool:
		fields["value_bool"] = v
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	case uint64:
		fields["value"] = float64(v)
	case float64:
		fields["value"] = v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fields["value"] = f
		} else {
			fields["value_str"] = v
		}
	default:
		fields["value_str"] = fmt.Sprintf("%v", value)
	}

	point := write.NewPoint(
		"attribute",
		map[string]string{
			"node_id":   strconv.FormatUint(nodeID, 10),
			"endpoint":  strconv.FormatUint(endpoint, 10),
			"cluster":   cluster,
			"attribute": attribute,
		},
		fields,
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandResult records the outcome of a dispatched device command.
//
// Parameters:
//   - nodeID: Matter node identifier
//   - endpoint: Endpoint identifier on the node
//   - cluster: Cluster token the command targeted
//   - command: Command name
//   - success: Whether the command completed successfully
//   - durationMs: Wall time from enqueue to terminal result
func (c *Client) WriteCommandResult(nodeID, endpoint uint64, cluster, command string, success bool, durationMs float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command",
		map[string]string{
			"node_id":  strconv.FormatUint(nodeID, 10),
			"endpoint": strconv.FormatUint(endpoint, 10),
			"cluster":  cluster,
			"command":  command,
		},
		map[string]interface{}{
			"success":     success,
			"duration_ms": durationMs,
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
//
// Example:
//
//	client.WritePoint("poller_stats",
//	    map[string]string{"host": "hub-01"},
//	    map[string]interface{}{"sweep_ms": 45.2, "devices": 5})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
