// Package mqtt provides MQTT client connectivity for Matterverse Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Matterverse publishes commissioned Matter devices on the MQTT bus using
// the Homie 3.0.1 convention. Each device is a Homie device, each cluster
// a Homie node, and each attribute a Homie property. Inbound commands
// arrive on the per-property set topics.
//
//	Matterverse Core ↔ MQTT Broker ↔ Home automation consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all inbound property commands
//	err = client.Subscribe(mqtt.Topics{}.AllPropertySets(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a live value (retained, per Homie)
//	topic := mqtt.Topics{}.Property("vendor_lamp_ab12", "onoff", "on-off")
//	client.PublishRetained(topic, []byte("true"))
package mqtt
