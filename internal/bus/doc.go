// Package bus bridges the device registry onto MQTT using the Homie
// 3.0.1 convention.
//
// # Architecture
//
//	                 ┌────────────┐   advertise / values
//	  Registry ────► │ Publisher  │ ─────────────► homie/<id>/...
//	                 └────────────┘
//	                 ┌────────────┐   values / metadata
//	  homie/# ─────► │ Normalizer │ ─────────────► Registry
//	                 └────────────┘
//	                        │         /set commands
//	                        └───────────────────► CommandSink
//
// Each registered endpoint is one Homie device: clusters become Homie
// nodes, attributes become properties. The publisher emits the full
// retained advertisement (lifecycle, node list, property metadata,
// current values); the normaliser consumes the whole hierarchy and maps
// metadata markers onto registry metadata, plain property topics onto
// value updates, and /set topics onto device commands.
//
// Both directions treat messages as full-value overwrites, so broker
// redelivery and retained echoes of the hub's own publishes are safe.
package bus
