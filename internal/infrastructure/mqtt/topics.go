package mqtt

import "fmt"

// Topic layout follows the Homie 3.0.1 convention:
//
//	homie/{device}/{node}/{property}            live value (retained)
//	homie/{device}/{node}/{property}/set        inbound command
//	homie/{device}/$state                       lifecycle attribute
//
// Clusters map to Homie nodes and attributes map to Homie properties.
const (
	// TopicPrefixHomie is the base for all Homie device topics.
	TopicPrefixHomie = "homie"

	// HomieVersion is the convention version advertised under $homie.
	HomieVersion = "3.0.1"

	// TopicBridgeStatus carries online/offline status for the hub's own
	// MQTT connection. Per-device lifecycle lives under homie/{id}/$state.
	TopicBridgeStatus = "matterverse/bridge/status"
)

// Topics provides builders for Homie MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	valueTopic := topics.Property("vendor_lamp_ab12", "onoff", "on-off")
//	// Returns: "homie/vendor_lamp_ab12/onoff/on-off"
type Topics struct{}

// BridgeStatus returns the hub lifecycle status topic.
func (Topics) BridgeStatus() string {
	return TopicBridgeStatus
}

// Device returns the root topic for a device.
//
// Example: homie/vendor_lamp_ab12
func (Topics) Device(topicID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixHomie, topicID)
}

// DeviceAttribute returns a device-level $attribute topic.
//
// Example: homie/vendor_lamp_ab12/$state
func (Topics) DeviceAttribute(topicID, attr string) string {
	return fmt.Sprintf("%s/%s/$%s", TopicPrefixHomie, topicID, attr)
}

// Node returns the topic for a cluster node.
//
// Example: homie/vendor_lamp_ab12/onoff
func (Topics) Node(topicID, cluster string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixHomie, topicID, cluster)
}

// NodeAttribute returns a node-level $attribute topic.
//
// Example: homie/vendor_lamp_ab12/onoff/$properties
func (Topics) NodeAttribute(topicID, cluster, attr string) string {
	return fmt.Sprintf("%s/%s/%s/$%s", TopicPrefixHomie, topicID, cluster, attr)
}

// Property returns the topic carrying a property's live value.
//
// Example: homie/vendor_lamp_ab12/onoff/on-off
func (Topics) Property(topicID, cluster, property string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixHomie, topicID, cluster, property)
}

// PropertyAttribute returns a property-level $attribute topic.
//
// Example: homie/vendor_lamp_ab12/onoff/on-off/$settable
func (Topics) PropertyAttribute(topicID, cluster, property, attr string) string {
	return fmt.Sprintf("%s/%s/%s/%s/$%s", TopicPrefixHomie, topicID, cluster, property, attr)
}

// PropertySet returns the inbound command topic for a property.
//
// Example: homie/vendor_lamp_ab12/onoff/on-off/set
func (Topics) PropertySet(topicID, cluster, property string) string {
	return fmt.Sprintf("%s/%s/%s/%s/set", TopicPrefixHomie, topicID, cluster, property)
}

// AllPropertySets returns a pattern matching all inbound set commands.
//
// Pattern: homie/+/+/+/set
func (Topics) AllPropertySets() string {
	return fmt.Sprintf("%s/+/+/+/set", TopicPrefixHomie)
}

// AllDeviceStates returns a pattern matching all device $state topics.
//
// Pattern: homie/+/$state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/$state", TopicPrefixHomie)
}

// AllTopics returns a pattern matching all Homie topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: homie/#
func (Topics) AllTopics() string {
	return "homie/#"
}
